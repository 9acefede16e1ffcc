package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(config.FilesConfig{
		Dir:          t.TempDir(),
		PendingCSV:   "alpha_list_pending_simulated.csv",
		SimQueueCSV:  "sim_queue.csv",
		FailCSV:      "fail_alphas.csv",
		ResultPrefix: "simulated_alphas_",
	})
}

func testRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Type:     "REGULAR",
			Settings: brain.DefaultSettings("SUBINDUSTRY"),
			Regular:  "rank(close)",
		}
	}
	return records
}

func TestWritePendingAndCount(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WritePending(testRecords(5)))

	count, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestPendingCountMissingFile(t *testing.T) {
	s := newTestStore(t)

	count, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPopBatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WritePending(testRecords(5)))

	batch, err := s.PopBatch(3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "REGULAR", batch[0].Type)
	assert.Equal(t, "rank(close)", batch[0].Regular)
	assert.Equal(t, "SUBINDUSTRY", batch[0].Settings.Neutralization)

	// The remainder survives the rewrite
	count, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The batch is mirrored for operators
	mirror, err := os.ReadFile(s.simQueuePath)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(mirror), "\n")) // header + 3 rows
}

func TestPopBatchDrainsQueue(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WritePending(testRecords(2)))

	batch, err := s.PopBatch(20)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = s.PopBatch(20)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestPopBatchMissingFile(t *testing.T) {
	s := newTestStore(t)

	batch, err := s.PopBatch(20)
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestPopBatchLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WritePending(testRecords(3)))

	_, err := s.PopBatch(1)
	require.NoError(t, err)

	_, err = os.Stat(s.pendingPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestAppendFailure(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendFailure(testRecords(1)[0]))
	require.NoError(t, s.AppendFailure(testRecords(1)[0]))

	data, err := os.ReadFile(s.failPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	// Header only once despite two appends
	assert.Contains(t, lines[0], "type")
	assert.NotContains(t, lines[1], "type,settings")
}

func TestAppendResultAndReadBack(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	raw := `{"id":"AbC123","status":"COMPLETE","grade":"GOOD","is":{"fitness":1.2,"sharpe":2.1,"returns":0.15,"turnover":0.3,"margin":0.002,"drawdown":0.05,"checks":[{"name":"LOW_SHARPE","result":"PASS"}]}}`
	var alpha brain.Alpha
	require.NoError(t, json.Unmarshal([]byte(raw), &alpha))
	alpha.Raw = json.RawMessage(raw)

	require.NoError(t, s.AppendResult(&alpha, now))

	path := s.ResultPath(now)
	assert.Equal(t, filepath.Join(s.dir, "simulated_alphas_20260830.csv"), path)

	alphas, err := s.ReadResults(path)
	require.NoError(t, err)
	require.Len(t, alphas, 1)
	assert.Equal(t, "AbC123", alphas[0].ID)
	assert.Equal(t, "COMPLETE", alphas[0].Status)
	require.NotNil(t, alphas[0].IS)
	assert.InDelta(t, 1.2, alphas[0].IS.Fitness, 1e-9)
	assert.InDelta(t, 2.1, alphas[0].IS.Sharpe, 1e-9)
}

func TestAppendResultWithoutMetrics(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	alpha := &brain.Alpha{ID: "X", Status: "ERROR", Raw: json.RawMessage(`{"id":"X","status":"ERROR"}`)}
	require.NoError(t, s.AppendResult(alpha, now))

	alphas, err := s.ReadResults(s.ResultPath(now))
	require.NoError(t, err)
	require.Len(t, alphas, 1)
	assert.Nil(t, alphas[0].IS)
	assert.Equal(t, 0, alphas[0].FailCount())
}

func TestAppendCorrelation(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)

	check := &brain.CorrelationCheck{AlphaID: "AbC123", Result: "PASS", Value: 0.42, Limit: 0.7}
	require.NoError(t, s.AppendCorrelation(check, "", now))

	data, err := os.ReadFile(s.CorrelationPath(now))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "AbC123,PASS,0.42,0.7,2026-08-30 09:30:00,")
}

func TestLatestResultFile(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LatestResultFile()
	require.Error(t, err)

	alpha := &brain.Alpha{ID: "A", Raw: json.RawMessage(`{"id":"A"}`)}
	require.NoError(t, s.AppendResult(alpha, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, s.AppendResult(alpha, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)))

	latest, err := s.LatestResultFile()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(latest, "simulated_alphas_20260829.csv"))
}
