package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/app"
	"healthloop/domain/core"
	"healthloop/internal"
	"healthloop/internal/metrics"
)

type fakeUsers []core.UserID

func (f fakeUsers) ActiveUsers(ctx context.Context) ([]core.UserID, error) { return f, nil }

type brokenUsers struct{}

func (brokenUsers) ActiveUsers(ctx context.Context) ([]core.UserID, error) {
	return nil, fmt.Errorf("connection refused")
}

type fakeRunner struct {
	mu       sync.Mutex
	errs     map[core.UserID]error
	skip     map[core.UserID]bool
	ran      []core.UserID
	inFlight int32
	peak     int32
}

func (f *fakeRunner) RunDay(ctx context.Context, user core.UserID, day core.Day) (app.DayReport, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.ran = append(f.ran, user)
	f.mu.Unlock()

	if err := f.errs[user]; err != nil {
		return app.DayReport{}, err
	}
	return app.DayReport{UserID: user, Day: day, Skipped: f.skip[user]}, nil
}

func users(n int) fakeUsers {
	out := make(fakeUsers, n)
	for i := range out {
		out[i] = core.UserID(fmt.Sprintf("u%02d", i))
	}
	return out
}

var day = core.NewDay(2025, time.March, 3)

func TestRunDayBoundsConcurrency(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, users(12), 3, WithLogger(internal.NewLogger(internal.LogLevelError)))

	summary, err := s.RunDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Users)
	assert.Equal(t, 12, summary.Completed)
	assert.Len(t, runner.ran, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(3))

	for i := 1; i < len(summary.Reports); i++ {
		assert.Less(t, summary.Reports[i-1].UserID, summary.Reports[i].UserID)
	}
}

func TestRunDayIsolatesFailures(t *testing.T) {
	runner := &fakeRunner{
		errs: map[core.UserID]error{
			"u01": fmt.Errorf("%w: resting_hr unreadable", core.ErrSafetyGate),
			"u02": fmt.Errorf("%w: analytics", core.ErrConsentMissing),
			"u03": fmt.Errorf("database is down"),
		},
		skip: map[core.UserID]bool{"u04": true},
	}
	m := metrics.New(prometheus.NewRegistry())
	s := New(runner, users(6), 2, WithMetrics(m), WithLogger(internal.NewLogger(internal.LogLevelError)))

	summary, err := s.RunDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, summary.Failed, 3)
	assert.Contains(t, summary.Failed["u01"], "safety gate")

	tests := []struct {
		cause string
		want  float64
	}{
		{"safety_gate", 1},
		{"consent", 1},
		{"other", 1},
	}
	for _, tt := range tests {
		t.Run(tt.cause, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.ToFloat64(m.UserRunErrors.WithLabelValues(tt.cause)))
		})
	}
}

func TestRunDayListingFailure(t *testing.T) {
	s := New(&fakeRunner{}, brokenUsers{}, 2)
	_, err := s.RunDay(context.Background(), day)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunDayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	s := New(runner, users(4), 1, WithLogger(internal.NewLogger(internal.LogLevelError)))

	_, err := s.RunDay(ctx, day)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.ran)
}

func TestCauseOf(t *testing.T) {
	assert.Equal(t, "safety_gate", causeOf(core.NewSafetyGateError("resting_hr", fmt.Errorf("out of range"))))
	assert.Equal(t, "other", causeOf(fmt.Errorf("boom")))
}
