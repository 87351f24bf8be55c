/*
scheduler.go - Optional cron triggers for the expiry sweep and monthly reset

PURPOSE:
  Runs Lifecycle.ExpireStale and AccountManager.ResetAll on cron
  schedules so a deployment does not need an external caller hitting
  /api/redeem/expire_old and /api/coin/reset_monthly.

CONFIGURATION:
  - ExpireSchedule: cron spec for the sweep, e.g. "@every 15m"
  - ResetSchedule:  cron spec for the reset, e.g. "0 0 1 * *"
  An empty spec leaves that job unregistered. Both are empty by default,
  which keeps both operations externally triggered.

USAGE:
  scheduler := NewScheduler(ledger, log, SchedulerConfig{ExpireSchedule: "@hourly"})
  if _, err := scheduler.Start(); err != nil {
      log.Fatal(err)
  }
  // ... later
  <-scheduler.Stop().Done()

SEE ALSO:
  - handlers.go: ExpireOld and ResetMonthly (manual triggers)
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/flipfactory/coin-ledger/coin"
)

const jobTimeout = 5 * time.Minute

// SchedulerConfig holds the cron specs. Empty disables a job.
type SchedulerConfig struct {
	ExpireSchedule string
	ResetSchedule  string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	ledger *coin.Ledger
	log    logrus.FieldLogger
	config SchedulerConfig
	now    func() time.Time
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in UTC.
func NewScheduler(ledger *coin.Ledger, log logrus.FieldLogger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		ledger: ledger,
		log:    log,
		config: cfg,
		now:    time.Now,
	}
}

// Start registers the configured jobs and starts the cron scheduler. It
// returns the number of registered jobs.
func (s *Scheduler) Start() (int, error) {
	jobs := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"expire stale redemptions", s.config.ExpireSchedule, s.RunExpiry},
		{"monthly reset", s.config.ResetSchedule, s.RunReset},
	}

	n := 0
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			return n, fmt.Errorf("schedule %s job %q: %w", job.name, job.schedule, err)
		}
		s.log.WithField("schedule", job.schedule).Infof("scheduled %s job", job.name)
		n++
	}

	if n > 0 {
		s.cron.Start()
	}
	return n, nil
}

// Stop gracefully stops the cron scheduler. The returned context is done
// once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunExpiry performs one expiry sweep.
func (s *Scheduler) RunExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff, n, err := s.ledger.Lifecycle.ExpireStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled expiry failed")
		return
	}
	s.log.WithField("expired", n).
		WithField("cutoff", cutoff.Format(coin.TimestampLayout)).
		Debug("scheduled expiry finished")
}

// RunReset performs one monthly reset.
func (s *Scheduler) RunReset() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.ledger.Accounts.ResetAll(ctx, s.now()); err != nil {
		s.log.WithError(err).Error("scheduled monthly reset failed")
	}
}
