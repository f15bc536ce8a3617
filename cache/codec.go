// Package cache provides single-slot stores for the last price snapshot
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sljivkov/ethticker/domain"
)

// SlotKey is the fixed name of the snapshot slot
const SlotKey = "ethPriceData"

// slot is the persisted form. Change fields may be missing in slots written
// by older versions.
type slot struct {
	EthUsd       json.Number  `json:"ethUsd"`
	EthBtc       json.Number  `json:"ethBtc"`
	EthUsdChange *json.Number `json:"ethUsdChange"`
	EthBtcChange *json.Number `json:"ethBtcChange"`
	Timestamp    *int64       `json:"timestamp"` // unix milliseconds
}

// EncodeSnapshot serializes a snapshot for the slot
func EncodeSnapshot(s domain.PriceSnapshot) ([]byte, error) {
	ts := s.FetchedAt.UnixMilli()
	return json.Marshal(slot{
		EthUsd:       json.Number(s.USD.String()),
		EthBtc:       json.Number(s.BTC.String()),
		EthUsdChange: nullNumber(s.USDChange24h),
		EthBtcChange: nullNumber(s.BTCChange24h),
		Timestamp:    &ts,
	})
}

func nullNumber(nd decimal.NullDecimal) *json.Number {
	if !nd.Valid {
		return nil
	}
	n := json.Number(nd.Decimal.String())
	return &n
}

// DecodeSnapshot parses slot contents. Any malformed payload is an error.
func DecodeSnapshot(data []byte) (*domain.PriceSnapshot, error) {
	var s slot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode slot: %w", err)
	}

	if s.Timestamp == nil {
		return nil, errors.New("decode slot: missing timestamp")
	}

	usd, err := requiredDecimal("ethUsd", s.EthUsd)
	if err != nil {
		return nil, err
	}
	btc, err := requiredDecimal("ethBtc", s.EthBtc)
	if err != nil {
		return nil, err
	}
	usdChange, err := optionalDecimal("ethUsdChange", s.EthUsdChange)
	if err != nil {
		return nil, err
	}
	btcChange, err := optionalDecimal("ethBtcChange", s.EthBtcChange)
	if err != nil {
		return nil, err
	}

	return &domain.PriceSnapshot{
		USD:          usd,
		BTC:          btc,
		USDChange24h: usdChange,
		BTCChange24h: btcChange,
		FetchedAt:    time.UnixMilli(*s.Timestamp),
	}, nil
}

func requiredDecimal(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("decode slot: missing %s", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode slot: %s: %w", field, err)
	}
	return d, nil
}

func optionalDecimal(field string, n *json.Number) (decimal.NullDecimal, error) {
	if n == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := requiredDecimal(field, *n)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
