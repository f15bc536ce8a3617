// Package pricefeed provides the interfaces that connect price sources,
// snapshot storage and scheduling in the ethticker service
package pricefeed

import (
	"context"

	"github.com/sljivkov/ethticker/domain"
)

// PriceProvider fetches a fresh price snapshot from an upstream source
type PriceProvider interface {
	// FetchSnapshot issues exactly one upstream request. Failures are
	// reported as *domain.FetchError.
	FetchSnapshot(ctx context.Context) (*domain.PriceSnapshot, error)
}
