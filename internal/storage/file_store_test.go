package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)
	return s
}

func finished(t *testing.T, id string, start time.Time) *models.ScanResult {
	t.Helper()
	scan := models.NewScanResult(id, "https://example.com/", start)
	require.NoError(t, scan.MarkRunning())
	scan.AddScannedURL("https://example.com/")
	scan.SetXSS("https://example.com/", &models.PageScanOutcome{
		URL:             "https://example.com/",
		Vulnerabilities: []models.Finding{{Type: "JS Sinks", Description: "d"}},
		RiskLevel:       models.RiskMedium,
	})
	require.NoError(t, scan.Finalize(start.Add(time.Second)))
	return scan
}

func TestFileStore_CreateGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFileStore(t)

	scan := models.NewScanResult("scan-1", "https://example.com/", time.Now())
	require.NoError(t, s.Create(ctx, scan))

	got, err := s.Get(ctx, "scan-1")
	require.NoError(t, err)
	assert.Same(t, scan, got, "pending scans are served from memory")

	_, err = os.Stat(filepath.Join(s.Dir(), "scan-1.json"))
	assert.NoError(t, err)

	err = s.Create(ctx, models.NewScanResult("scan-1", "https://example.com/", time.Now()))
	assert.ErrorIs(t, err, ErrExists)
}

func TestFileStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := newFileStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveTerminalReloadsFromDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFileStore(t)

	scan := finished(t, "scan-2", time.Now())
	require.NoError(t, s.Save(ctx, scan))

	got, err := s.Get(ctx, "scan-2")
	require.NoError(t, err)
	assert.NotSame(t, scan, got)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Results.Overview.TotalVulnerabilities)
	assert.Equal(t, models.RiskMedium, got.Results.Overview.RiskLevel)
	require.Contains(t, got.Results.XSS, "https://example.com/")

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "scan-2.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "scan-2", doc["id"])
	assert.Contains(t, doc, "results")
}

func TestFileStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFileStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, finished(t, id, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "junk.txt"), []byte("x"), 0o600))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestFileStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, s.Save(ctx, finished(t, "gone", time.Now())))

	ok, err := s.Delete(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_PruneSkipsLiveScans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, s.Save(ctx, finished(t, "old", time.Now())))
	require.NoError(t, s.Create(ctx, models.NewScanResult("live", "https://example.com/", time.Now())))

	past := time.Now().Add(-48 * time.Hour)
	for _, id := range []string{"old", "live"} {
		require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), id+".json"), past, past))
	}

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	scan := models.NewScanResult("m1", "https://example.com/", time.Now())
	require.NoError(t, m.Create(ctx, scan))
	assert.ErrorIs(t, m.Create(ctx, scan), ErrExists)
	require.NoError(t, m.Save(ctx, scan))
	assert.Equal(t, 1, m.Saves("m1"))

	got, err := m.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, scan, got)

	ok, _ := m.Delete(ctx, "m1")
	assert.True(t, ok)
	_, err = m.Get(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

const zonelessScan = `{
  "id": "3f0c6a4e-2b1d-4c55-9a0e-7d1e5b2c9f10",
  "target_url": "https://example.com/",
  "scan_type": "full",
  "start_time": "2024-05-01T10:20:30.123456",
  "end_time": "2024-05-01T10:21:02.654321",
  "duration": 32.530865,
  "status": "completed",
  "results": {
    "xss": {
      "https://example.com/": {
        "url": "https://example.com/",
        "vulnerabilities": [{"type": "JS Sinks", "description": "innerHTML assignment"}],
        "risk_level": "Medium",
        "ai_analysis": ""
      }
    },
    "csrf": {},
    "urls_scanned": ["https://example.com/"],
    "overview": {
      "risk_level": "Medium",
      "total_vulnerabilities": 1,
      "critical": 0,
      "high": 0,
      "medium": 1,
      "low": 0
    }
  }
}`

func TestFileStore_LoadsZonelessTimestamps(t *testing.T) {
	t.Parallel()
	s := newFileStore(t)
	id := "3f0c6a4e-2b1d-4c55-9a0e-7d1e5b2c9f10"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), id+".json"), []byte(zonelessScan), 0o644))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC), got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 21, 2, 654321000, time.UTC), *got.EndTime)
	assert.Equal(t, models.RiskMedium, got.Results.Overview.RiskLevel)
	assert.Len(t, got.Results.XSS, 1)

	scans, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, id, scans[0].ID)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_time":"2024-05-01T10:20:30.123456Z"`)
}
