package analyzer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r973356237/AlphaWorker/internal/brain"
)

func testAlpha(id string, fitness, sharpe, returns, drawdown float64, failed int) brain.Alpha {
	checks := make([]brain.Check, failed)
	for i := range checks {
		checks[i] = brain.Check{Name: "CHECK", Result: "FAIL"}
	}
	return brain.Alpha{
		ID:     id,
		Status: "COMPLETE",
		Grade:  "GOOD",
		IS: &brain.ISMetrics{
			Fitness:  fitness,
			Sharpe:   sharpe,
			Returns:  returns,
			Drawdown: drawdown,
			Checks:   checks,
		},
	}
}

func TestScoreRanks(t *testing.T) {
	alphas := []brain.Alpha{
		testAlpha("best", 2.0, 3.0, 0.30, 0.05, 0),
		testAlpha("mid", 1.0, 2.0, 0.20, 0.05, 0),
		testAlpha("worst", 0.5, 1.0, 0.10, 0.05, 2),
	}

	scored := Score(alphas)
	require.Len(t, scored, 3)

	assert.Equal(t, 1, scored[0].FitnessRank)
	assert.Equal(t, 1, scored[0].SharpeRank)
	assert.Equal(t, 1, scored[0].RDDRank)
	assert.Equal(t, 3, scored[0].CompositeScore)

	assert.Equal(t, 6, scored[1].CompositeScore)
	assert.Equal(t, 9, scored[2].CompositeScore)
	assert.Equal(t, 2, scored[2].FailCount)
}

func TestScoreSkipsAlphasWithoutMetrics(t *testing.T) {
	alphas := []brain.Alpha{
		{ID: "broken", Status: "ERROR"},
		testAlpha("ok", 1.0, 1.0, 0.1, 0.05, 0),
	}
	scored := Score(alphas)
	require.Len(t, scored, 1)
	assert.Equal(t, "ok", scored[0].ID)
}

func TestScoreZeroDrawdown(t *testing.T) {
	scored := Score([]brain.Alpha{testAlpha("a", 1.0, 1.0, 0.1, 0, 0)})
	require.Len(t, scored, 1)
	assert.Zero(t, scored[0].ReturnsToDrawdown)
}

func TestWriteReport(t *testing.T) {
	alphas := []brain.Alpha{
		testAlpha("winner", 2.0, 3.0, 0.30, 0.05, 0),
		testAlpha("promising", 1.8, 2.5, 0.25, 0.06, 1),
		testAlpha("loser", 0.2, 0.3, 0.05, 0.20, 3),
	}

	var sb strings.Builder
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, WriteReport(&sb, "simulated_alphas_20260830.csv", alphas, now))
	report := sb.String()

	assert.Contains(t, report, "# Alpha Simulation Analysis Report")
	assert.Contains(t, report, "simulated_alphas_20260830.csv")
	assert.Contains(t, report, "1 alphas passed every check")
	assert.Contains(t, report, "| winner |")
	assert.Contains(t, report, "| promising |")
	assert.Contains(t, report, "## 3. Metric summary")
	assert.Contains(t, report, "| fitness |")

	// The promising board must not list all-pass alphas
	promising := report[strings.Index(report, "### Promising alphas"):]
	promising = promising[:strings.Index(promising, "### Fitness")]
	assert.NotContains(t, promising, "| winner |")
	assert.Contains(t, promising, "| promising |")
}

func TestWriteReportEmpty(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteReport(&sb, "empty.csv", nil, time.Now()))
	assert.Contains(t, sb.String(), "No alpha passed all checks.")
}

func TestExtractAlphaIDs(t *testing.T) {
	watchList := `# Wait submit list

| id | grade | fitness |
|---|---|---|
| AbC123 | GOOD | 1.52 |
| XyZ789 | EXCELLENT | 2.10 |
| AbC123 | GOOD | 1.52 |
`
	ids, err := ExtractAlphaIDs(strings.NewReader(watchList))
	require.NoError(t, err)
	assert.Equal(t, []string{"AbC123", "XyZ789"}, ids)
}

func TestExtractAlphaIDsPlainList(t *testing.T) {
	ids, err := ExtractAlphaIDs(strings.NewReader("AbC123 GOOD\nXyZ789 GOOD\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AbC123", "XyZ789"}, ids)
}

func TestExtractAlphaIDsEmpty(t *testing.T) {
	ids, err := ExtractAlphaIDs(strings.NewReader("# nothing here\n"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
