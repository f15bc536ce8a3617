package refresher

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronScheduler runs refresh jobs on a robfig/cron instance. Jobs are not
// skipped when a previous run is still going.
type CronScheduler struct {
	cron *cron.Cron
}

// NewCronScheduler creates a scheduler that logs through logger
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	cl := cronLogger{s: logger.Sugar()}
	return &CronScheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// Every registers job to run once per interval. Sub-second intervals are
// rounded up to one second.
func (s *CronScheduler) Every(interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), job); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	return nil
}

func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs to return
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
