package pricefeed

import "time"

// Scheduler runs jobs on a fixed period until stopped
type Scheduler interface {
	// Every registers job to run once per interval after Start
	Every(interval time.Duration, job func()) error
	Start()
	// Stop prevents further runs and blocks until running jobs return
	Stop()
}
