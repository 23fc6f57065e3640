package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/adapters/memory"
	"healthloop/domain/finding"
	"healthloop/internal/config"
	"healthloop/internal/errors"
	"healthloop/internal/testkit"
	"healthloop/ports"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory", MaxOpenConns: 1},
		Server:   config.ServerConfig{Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		Analysis: config.AnalysisConfig{
			MinBaselineDays:   14,
			LookbackDays:      30,
			StaleAfterDays:    3,
			FDRAlpha:          0.05,
			MaxLag:            3,
			MinPairs:          14,
			AttributionDays:   60,
			MaxExtensions:     2,
			ExtensionDays:     7,
			Concurrency:       2,
			BaselineCacheSize: 16,
		},
		Redis:     config.RedisConfig{LedgerTTL: time.Hour},
		Telemetry: config.TelemetryConfig{ServiceName: "healthloop-test", Environment: "test", SamplingRate: 1},
		LogLevel:  "ERROR",
	}
}

func TestNewMemoryContainerRunsADay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())
	store.Grant("u1", ports.ConsentAnalytics, ports.ConsentAttribution, ports.ConsentExperiments)

	cfg := testConfig()
	require.NoError(t, config.Validate(cfg))

	c, err := New(ctx, cfg, WithMemoryStore(store))
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, store, c.Memory)
	assert.Nil(t, c.DB)
	assert.NotEmpty(t, c.Registry.Keys())

	summary, err := c.Scheduler.RunDay(ctx, testkit.Day(13))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, summary.Failed)
	require.Len(t, summary.Reports, 1)
	assert.Equal(t, finding.StateFound, summary.Reports[0].Outcomes["sleep_duration"].State)

	families, err := c.Prometheus.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "healthloop_detector_outcomes_total")
	assert.Contains(t, names, "go_goroutines")
}

func TestNewRejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, nil)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics: []\n"), 0o644))
	cfg.Analysis.MetricRegistryFile = path
	_, err = New(ctx, cfg)
	assert.ErrorContains(t, err, "metric registry is empty")
}

func TestCloseIsRepeatable(t *testing.T) {
	c, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
