package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/logger"
)

type fakeBrain struct {
	mux       *http.ServeMux
	server    *httptest.Server
	authCalls int64
}

func newFakeBrain(t *testing.T) *fakeBrain {
	t.Helper()
	fb := &fakeBrain{mux: http.NewServeMux()}
	fb.mux.HandleFunc("/authentication", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&fb.authCalls, 1)
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"id":"u1"},"token":{"expiry":14400},"permissions":[]}`)
	})
	fb.server = httptest.NewServer(fb.mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBrain) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&config.BrainConfig{
		BaseURL:         fb.server.URL,
		Username:        "user",
		Password:        "pass",
		Timeout:         5 * time.Second,
		LoginRetries:    2,
		LoginRetryDelay: 10 * time.Millisecond,
		RequestsPerSec:  1000,
		Burst:           1000,
	}, logger.NewLogger(logger.Config{Level: logger.LevelError, Format: logger.FormatText, Output: "stdout"}))
	require.NoError(t, err)
	c.retryConfig = &RetryConfig{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond, Factor: 2}
	return c
}

func TestAuthenticate(t *testing.T) {
	fb := newFakeBrain(t)
	c := fb.client(t)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.True(t, c.sessionValid())
}

func TestAuthenticateGivesUp(t *testing.T) {
	fb := newFakeBrain(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := fb.client(t)
	c.baseURL = server.URL

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeAuthFailed, appErr.Code)
}

func TestCreateSimulation(t *testing.T) {
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/simulations", func(w http.ResponseWriter, r *http.Request) {
		var req SimulationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "REGULAR", req.Type)
		assert.Equal(t, "rank(close)", req.Regular)
		w.Header().Set("Location", fb.server.URL+"/simulations/sim1")
		w.WriteHeader(http.StatusCreated)
	})

	c := fb.client(t)
	location, err := c.CreateSimulation(context.Background(), &SimulationRequest{
		Type:     "REGULAR",
		Settings: DefaultSettings("SECTOR"),
		Regular:  "rank(close)",
	})
	require.NoError(t, err)
	assert.Equal(t, fb.server.URL+"/simulations/sim1", location)
}

func TestCreateSimulationMissingLocation(t *testing.T) {
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/simulations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	c := fb.client(t)
	_, err := c.CreateSimulation(context.Background(), &SimulationRequest{Type: "REGULAR"})
	require.Error(t, err)
}

func TestGetSimulationProgress(t *testing.T) {
	var calls int64
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/simulations/sim1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2.5")
			w.WriteHeader(http.StatusOK)
			return
		}
		fmt.Fprint(w, `{"id":"sim1","type":"REGULAR","status":"COMPLETE","alpha":"AbC123"}`)
	})

	c := fb.client(t)
	ctx := context.Background()
	url := fb.server.URL + "/simulations/sim1"

	progress, retryAfter, err := c.GetSimulationProgress(ctx, url)
	require.NoError(t, err)
	assert.Nil(t, progress)
	assert.Equal(t, 2500*time.Millisecond, retryAfter)

	progress, retryAfter, err = c.GetSimulationProgress(ctx, url)
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
	require.NotNil(t, progress)
	assert.Equal(t, "COMPLETE", progress.Status)
	assert.Equal(t, "AbC123", progress.AlphaID)
}

func TestGetAlphaKeepsRawBody(t *testing.T) {
	body := `{"id":"AbC123","status":"COMPLETE","grade":"GOOD","is":{"fitness":1.5,"sharpe":2.0,"checks":[{"name":"LOW_SHARPE","result":"FAIL"}]}}`
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/alphas/AbC123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	c := fb.client(t)
	alpha, err := c.GetAlpha(context.Background(), "AbC123")
	require.NoError(t, err)
	assert.Equal(t, "AbC123", alpha.ID)
	assert.Equal(t, body, string(alpha.Raw))
	require.NotNil(t, alpha.IS)
	assert.Equal(t, 1, alpha.FailCount())
}

func TestCheckSelfCorrelation(t *testing.T) {
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/alphas/AbC123/check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"is":{"checks":[
			{"name":"LOW_SHARPE","result":"PASS"},
			{"name":"SELF_CORRELATION","result":"PASS","value":0.42,"limit":0.7}
		]}}`)
	})
	fb.mux.HandleFunc("/alphas/NoCorr/check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"is":{"checks":[{"name":"LOW_SHARPE","result":"PASS"}]}}`)
	})

	c := fb.client(t)
	check, err := c.CheckSelfCorrelation(context.Background(), "AbC123")
	require.NoError(t, err)
	assert.Equal(t, "PASS", check.Result)
	assert.InDelta(t, 0.42, check.Value, 1e-9)
	assert.InDelta(t, 0.7, check.Limit, 1e-9)

	_, err = c.CheckSelfCorrelation(context.Background(), "NoCorr")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestListDataFieldsPaging(t *testing.T) {
	fields := make([]DataField, 120)
	for i := range fields {
		fields[i] = DataField{ID: fmt.Sprintf("f%03d", i), Type: "MATRIX"}
	}

	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/data-fields", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "fundamental2", q.Get("dataset.id"))
		assert.Equal(t, "EQUITY", q.Get("instrumentType"))

		offset := 0
		fmt.Sscanf(q.Get("offset"), "%d", &offset)
		end := offset + 50
		if end > len(fields) {
			end = len(fields)
		}
		json.NewEncoder(w).Encode(dataFieldPage{Count: len(fields), Results: fields[offset:end]})
	})

	c := fb.client(t)
	got, err := c.ListDataFields(context.Background(), SearchScope{
		InstrumentType: "EQUITY", Region: "USA", Delay: 1, Universe: "TOP3000",
	}, "fundamental2", "")
	require.NoError(t, err)
	require.Len(t, got, 120)
	assert.Equal(t, "f000", got[0].ID)
	assert.Equal(t, "f119", got[119].ID)
}

func TestCallReauthenticatesOnExpiredSession(t *testing.T) {
	var alphaCalls int64
	fb := newFakeBrain(t)
	fb.mux.HandleFunc("/alphas/AbC123", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&alphaCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id":"AbC123","status":"COMPLETE"}`)
	})

	c := fb.client(t)
	alpha, err := c.GetAlpha(context.Background(), "AbC123")
	require.NoError(t, err)
	assert.Equal(t, "AbC123", alpha.ID)
	// Initial login plus the re-login triggered by the 401
	assert.Equal(t, int64(2), atomic.LoadInt64(&fb.authCalls))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("nonsense"))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
}
