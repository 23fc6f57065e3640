package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"healthloop/adapters/memory"
	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/metric"
	"healthloop/ports"
)

func writeWorkbook(t *testing.T, sheets map[string][][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadFixtureWorkbook(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{
		"metrics": {
			{"user_id", "metric", "observed_at", "value"},
			{"u1", "sleep_duration", "2025-01-01", "7.2"},
			{"u1", "sleep_duration", "2025-01-02T06:30:00Z", "6.8"},
			{"u2", "steps", "2025-01-01 18:00:00", "9000"},
		},
		"exposures": {
			{"user_id", "day", "exposure", "value"},
			{"u1", "2025-01-01", "magnesium", "400"},
			{"u1", "2025-01-02", "caffeine", ""},
		},
		"symptoms": {
			{"user_id", "day", "tag"},
			{"u1", "2025-01-02", "Fainting"},
		},
		"consents": {
			{"user_id", "scope"},
			{"u1", "analytics"},
			{"u1", "attribution"},
		},
		"notes": {
			{"anything"},
			{"ignored"},
		},
	})

	fx, err := LoadFixture(path, metric.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"u1", "u2"}, fx.Users())

	sleep := fx.Points["u1"]["sleep_duration"]
	require.Len(t, sleep, 2)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), sleep[0].At)
	assert.Equal(t, 6.8, sleep[1].Value)

	require.Len(t, fx.Exposures["u1"], 2)
	assert.Equal(t, 1.0, fx.Exposures["u1"][1].Value, "a blank value counts as one dose")
	assert.Equal(t, []string{"fainting"}, fx.Symptoms["u1"][core.NewDay(2025, time.January, 2)])

	store := memory.NewStore()
	fx.LoadInto(store)
	ctx := context.Background()
	ok, err := store.HasConsent(ctx, "u1", ports.ConsentAttribution)
	require.NoError(t, err)
	assert.True(t, ok)
	pts, err := store.Points(ctx, "u2", "steps", core.TrailingWindow(core.NewDay(2025, time.January, 1), 1))
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestLoadFixtureRejectsBadRows(t *testing.T) {
	tests := []struct {
		name  string
		rows  [][]interface{}
		sheet string
		want  string
	}{
		{
			name:  "unknown metric",
			sheet: "metrics",
			rows:  [][]interface{}{{"user_id", "metric", "observed_at", "value"}, {"u1", "blood_oxygen", "2025-01-01", "97"}},
			want:  "row 2",
		},
		{
			name:  "bad timestamp",
			sheet: "metrics",
			rows:  [][]interface{}{{"user_id", "metric", "observed_at", "value"}, {"u1", "steps", "yesterday", "97"}},
			want:  "invalid timestamp",
		},
		{
			name:  "bad scope",
			sheet: "consents",
			rows:  [][]interface{}{{"user_id", "scope"}, {"u1", "marketing"}},
			want:  "unknown consent scope",
		},
		{
			name:  "missing user",
			sheet: "exposures",
			rows:  [][]interface{}{{"user_id", "day", "exposure", "value"}, {"", "2025-01-01", "zinc", "1"}},
			want:  "user ID cannot be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeWorkbook(t, map[string][][]interface{}{tt.sheet: tt.rows})
			_, err := LoadFixture(path, metric.DefaultRegistry())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFixtureCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrv.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"User_ID, Metric ,Observed_At,Value\n"+
			"u1,hrv_rmssd,2025-01-01,52.5\n"+
			",,,\n"+
			"u1,hrv_rmssd,2025-01-02,48\n"), 0o644))

	fx, err := LoadFixture(path, metric.DefaultRegistry())
	require.NoError(t, err)
	assert.Len(t, fx.Points["u1"]["hrv_rmssd"], 2)
}

func TestReadSheetMissingFile(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "nope.csv")).ReadSheet("")
	assert.ErrorContains(t, err, "not found")
}

type recordingImporter struct {
	points   map[core.UserID]int
	symptoms map[core.UserID][]string
	grants   map[core.UserID][]ports.ConsentScope
}

func (r *recordingImporter) Import(ctx context.Context, user core.UserID, points map[core.MetricKey][]metric.Point, logs []attribution.ExposureLog) error {
	for _, pts := range points {
		r.points[user] += len(pts)
	}
	return nil
}

func (r *recordingImporter) ReportSymptoms(ctx context.Context, user core.UserID, day core.Day, tags ...string) error {
	r.symptoms[user] = append(r.symptoms[user], tags...)
	return nil
}

func (r *recordingImporter) Grant(ctx context.Context, user core.UserID, scopes ...ports.ConsentScope) error {
	r.grants[user] = append(r.grants[user], scopes...)
	return nil
}

func TestSaveTo(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{
		"metrics": {
			{"user_id", "metric", "observed_at", "value"},
			{"u1", "steps", "2025-01-01", "8000"},
			{"u1", "steps", "2025-01-02", "9000"},
			{"u2", "steps", "2025-01-01", "4000"},
		},
		"symptoms": {
			{"user_id", "day", "tag"},
			{"u2", "2025-01-01", "headache"},
		},
		"consents": {
			{"user_id", "scope"},
			{"u1", "analytics"},
		},
	})
	fx, err := LoadFixture(path, metric.DefaultRegistry())
	require.NoError(t, err)

	dst := &recordingImporter{
		points:   make(map[core.UserID]int),
		symptoms: make(map[core.UserID][]string),
		grants:   make(map[core.UserID][]ports.ConsentScope),
	}
	require.NoError(t, fx.SaveTo(context.Background(), dst))
	assert.Equal(t, map[core.UserID]int{"u1": 2, "u2": 1}, dst.points)
	assert.Equal(t, []string{"headache"}, dst.symptoms["u2"])
	assert.Equal(t, []ports.ConsentScope{ports.ConsentAnalytics}, dst.grants["u1"])
	assert.Empty(t, dst.grants["u2"])
}
