package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"healthloop/app"
	"healthloop/domain/core"
	"healthloop/internal"
	"healthloop/internal/metrics"
	"healthloop/ports"
)

// DayRunner runs one user's day
type DayRunner interface {
	RunDay(ctx context.Context, user core.UserID, day core.Day) (app.DayReport, error)
}

// Summary is the outcome of one batch
type Summary struct {
	Day       core.Day               `json:"day"`
	Users     int                    `json:"users"`
	Completed int                    `json:"completed"`
	Skipped   int                    `json:"skipped"`
	Failed    map[core.UserID]string `json:"failed,omitempty"`
	Reports   []app.DayReport        `json:"reports"`
	Duration  time.Duration          `json:"duration"`
}

// Scheduler fans the daily run out over every active user with a bounded
// number of users in flight
type Scheduler struct {
	runner DayRunner
	users  ports.UserLister
	limit  int64
	m      *metrics.Metrics
	log    *internal.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.m = m } }
func WithLogger(l *internal.Logger) Option { return func(s *Scheduler) { s.log = l.With("scheduler") } }

// New builds a scheduler running at most limit users at once
func New(runner DayRunner, users ports.UserLister, limit int, opts ...Option) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &Scheduler{
		runner: runner,
		users:  users,
		limit:  int64(limit),
		m:      metrics.Nop(),
		log:    internal.DefaultLogger.With("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunDay runs day for every active user. One user's failure never stops the
// others; only cancellation or a failed user listing ends the batch early.
func (s *Scheduler) RunDay(ctx context.Context, day core.Day) (Summary, error) {
	start := time.Now()
	users, err := s.users.ActiveUsers(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active users: %w", err)
	}

	summary := Summary{Day: day, Users: len(users), Failed: make(map[core.UserID]string)}
	var mu sync.Mutex
	sem := semaphore.NewWeighted(s.limit)
	g, gctx := errgroup.WithContext(ctx)

	for _, user := range users {
		user := user
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			report, err := s.runner.RunDay(gctx, user, day)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && report.Skipped:
				summary.Skipped++
			case err == nil:
				summary.Completed++
				summary.Reports = append(summary.Reports, report)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				cause := causeOf(err)
				s.m.UserRunErrors.WithLabelValues(cause).Inc()
				s.log.Error("daily run failed for user %s on %s (%s): %v", user, day, cause, err)
				summary.Failed[user] = err.Error()
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	sort.Slice(summary.Reports, func(i, j int) bool { return summary.Reports[i].UserID < summary.Reports[j].UserID })
	summary.Duration = time.Since(start)
	s.m.RunDuration.WithLabelValues("batch").Observe(summary.Duration.Seconds())
	s.log.Info("daily batch for %s: %d users, %d completed, %d skipped, %d failed",
		day, summary.Users, summary.Completed, summary.Skipped, len(summary.Failed))
	return summary, err
}

// Every runs the batch for the current day at each tick until ctx ends
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, today func() core.Day) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunDay(ctx, today()); err != nil && ctx.Err() == nil {
			s.log.Error("daily batch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func causeOf(err error) string {
	switch {
	case errors.Is(err, core.ErrSafetyGate):
		return "safety_gate"
	case errors.Is(err, core.ErrConsentMissing):
		return "consent"
	default:
		return "other"
	}
}
