package analyzer

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/store"
	"github.com/r973356237/AlphaWorker/internal/testutils"
)

type fakeChecker struct {
	authCalls int
	results   map[string]*brain.CorrelationCheck
	errors    map[string]error
	checked   []string
}

func (f *fakeChecker) Authenticate(ctx context.Context) error {
	f.authCalls++
	return nil
}

func (f *fakeChecker) CheckSelfCorrelation(ctx context.Context, alphaID string) (*brain.CorrelationCheck, error) {
	f.checked = append(f.checked, alphaID)
	if err, ok := f.errors[alphaID]; ok {
		return nil, err
	}
	return f.results[alphaID], nil
}

func TestCorrelationSweep(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	st := store.New(config.FilesConfig{Dir: suite.TempDir})
	checker := &fakeChecker{
		results: map[string]*brain.CorrelationCheck{
			"AbC123": {AlphaID: "AbC123", Result: "PASS", Value: 0.3, Limit: 0.7},
			"XyZ789": {AlphaID: "XyZ789", Result: "FAIL", Value: 0.9, Limit: 0.7},
		},
		errors: map[string]error{
			"NoCorr": apperrors.NewAppError(apperrors.ErrCodeNotFound, "no SELF_CORRELATION entry in check response", nil),
			"Broken": errors.New("connection reset"),
		},
	}

	sweep := NewCorrelationSweep(checker, st, time.Millisecond, suite.Logger)
	watchList := strings.NewReader(`| id | grade |
|---|---|
| AbC123 | GOOD |
| XyZ789 | GOOD |
| NoCorr | GOOD |
| Broken | GOOD |
`)

	require.NoError(t, sweep.Run(context.Background(), watchList))
	assert.Equal(t, 1, checker.authCalls)
	assert.Equal(t, []string{"AbC123", "XyZ789", "NoCorr", "Broken"}, checker.checked)

	data, err := os.ReadFile(st.CorrelationPath(time.Now()))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "AbC123,PASS,0.3,0.7")
	assert.Contains(t, content, "XyZ789,FAIL,0.9,0.7")
	assert.Contains(t, content, "NoCorr,UNKNOWN")
	assert.Contains(t, content, "Broken,FAIL")
	assert.Contains(t, content, "connection reset")
}

func TestCorrelationSweepEmptyWatchList(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	st := store.New(config.FilesConfig{Dir: suite.TempDir})
	sweep := NewCorrelationSweep(&fakeChecker{}, st, time.Millisecond, suite.Logger)

	err := sweep.Run(context.Background(), strings.NewReader("# empty\n"))
	require.Error(t, err)
}
