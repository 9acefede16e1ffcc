package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/logger"
)

// Client is the WorldQuant BRAIN API client. The session token lives in
// the cookie jar; all calls are rate limited and retried on transient
// failures, and a 401 triggers a re-login before the call is repeated.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig *RetryConfig
	log         logger.Logger

	username        string
	password        string
	loginRetries    int
	loginRetryDelay time.Duration

	mu            sync.Mutex
	sessionExpiry time.Time
}

// NewClient creates a new BRAIN API client
func NewClient(cfg *config.BrainConfig, log logger.Logger) (*Client, error) {
	username, password, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		limiter:         rate.NewLimiter(rate.Limit(rps), burst),
		retryConfig:     DefaultRetryConfig(),
		log:             log.WithField("component", "brain"),
		username:        username,
		password:        password,
		loginRetries:    cfg.LoginRetries,
		loginRetryDelay: cfg.LoginRetryDelay,
	}, nil
}

// Authenticate logs into the BRAIN API with basic auth. The session
// token arrives as a cookie and is held by the client's jar. Login is
// retried with a fixed delay because the platform drops connections
// regularly during maintenance windows.
func (c *Client) Authenticate(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.loginRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authentication", nil)
		if err != nil {
			return fmt.Errorf("failed to create auth request: %w", err)
		}
		req.SetBasicAuth(c.username, c.password)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var auth AuthResponse
				if err := json.Unmarshal(body, &auth); err == nil && auth.Token.Expiry > 0 {
					c.mu.Lock()
					c.sessionExpiry = time.Now().Add(time.Duration(auth.Token.Expiry) * time.Second)
					c.mu.Unlock()
				}
				c.log.Info("Logged into BRAIN successfully", "attempt", attempt)
				return nil
			}
			lastErr = apperrors.FromHTTPStatus(resp.StatusCode, string(body))
		} else {
			lastErr = apperrors.WrapError(err, apperrors.ErrCodeAPIConnection, "authentication request failed")
		}

		c.log.Warn("Login failed, retrying",
			"attempt", attempt, "max", c.loginRetries, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.loginRetryDelay):
		}
	}

	return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeAuthFailed,
		"failed to log into BRAIN",
		fmt.Sprintf("gave up after %d attempts", c.loginRetries), lastErr)
}

// sessionValid reports whether the cached session is still usable
func (c *Client) sessionValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.sessionExpiry.IsZero() && time.Now().Before(c.sessionExpiry)
}

// ensureSession authenticates when no valid session exists
func (c *Client) ensureSession(ctx context.Context) error {
	if c.sessionValid() {
		return nil
	}
	return c.Authenticate(ctx)
}

// apiResponse carries the parts of a response callers need
type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

// do executes a single request attempt with rate limiting
func (c *Client) do(ctx context.Context, method, rawURL string, payload interface{}) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeAPIConnection, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeAPIConnection, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, string(respBody))
	}

	return &apiResponse{
		status: resp.StatusCode,
		header: resp.Header,
		body:   respBody,
	}, nil
}

// call wraps do with session handling and transient-error retries
func (c *Client) call(ctx context.Context, method, rawURL string, payload interface{}) (*apiResponse, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	return RetryWithResult(ctx, func(ctx context.Context) (*apiResponse, error) {
		resp, err := c.do(ctx, method, rawURL, payload)
		if appErr := apperrors.GetAppError(err); appErr != nil && appErr.Code == apperrors.ErrCodeSessionExpired {
			c.log.Warn("Session expired, re-authenticating")
			if authErr := c.Authenticate(ctx); authErr != nil {
				return nil, authErr
			}
			return c.do(ctx, method, rawURL, payload)
		}
		return resp, err
	}, c.retryConfig)
}

// CreateSimulation submits an alpha for simulation and returns the
// progress URL from the Location header
func (c *Client) CreateSimulation(ctx context.Context, req *SimulationRequest) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, c.baseURL+"/simulations", req)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeSimulationSubmit, "simulation request failed")
	}

	location := resp.header.Get("Location")
	if location == "" {
		return "", apperrors.NewAppError(apperrors.ErrCodeAPIResponse,
			"simulation response carried no Location header", nil)
	}
	return location, nil
}

// GetSimulationProgress polls a progress URL. A positive retryAfter
// means the simulation is still running and should be polled again
// after that long; progress is only populated once it is zero.
func (c *Client) GetSimulationProgress(ctx context.Context, progressURL string) (*SimulationProgress, time.Duration, error) {
	resp, err := c.call(ctx, http.MethodGet, progressURL, nil)
	if err != nil {
		return nil, 0, err
	}

	if retryAfter := parseRetryAfter(resp.header.Get("Retry-After")); retryAfter > 0 {
		return nil, retryAfter, nil
	}

	var progress SimulationProgress
	if err := json.Unmarshal(resp.body, &progress); err != nil {
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeAPIResponse, "failed to parse simulation progress")
	}
	return &progress, 0, nil
}

// GetAlpha fetches a simulated alpha by id. The raw body is kept on the
// returned value for flat-file persistence.
func (c *Client) GetAlpha(ctx context.Context, alphaID string) (*Alpha, error) {
	resp, err := c.call(ctx, http.MethodGet, c.baseURL+"/alphas/"+alphaID, nil)
	if err != nil {
		return nil, err
	}

	var alpha Alpha
	if err := json.Unmarshal(resp.body, &alpha); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeAPIResponse, "failed to parse alpha")
	}
	alpha.Raw = json.RawMessage(resp.body)
	return &alpha, nil
}

// CheckSelfCorrelation runs the platform's submission check for an
// alpha and extracts the SELF_CORRELATION verdict
func (c *Client) CheckSelfCorrelation(ctx context.Context, alphaID string) (*CorrelationCheck, error) {
	resp, err := c.call(ctx, http.MethodGet, c.baseURL+"/alphas/"+alphaID+"/check", nil)
	if err != nil {
		return nil, err
	}

	var check checkResponse
	if err := json.Unmarshal(resp.body, &check); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeAPIResponse, "failed to parse check response")
	}

	for _, entry := range check.IS.Checks {
		if entry.Name == "SELF_CORRELATION" {
			return &CorrelationCheck{
				AlphaID: alphaID,
				Result:  entry.Result,
				Value:   entry.Value,
				Limit:   entry.Limit,
			}, nil
		}
	}
	return nil, apperrors.NewAppError(apperrors.ErrCodeNotFound,
		"no SELF_CORRELATION entry in check response", nil).WithContext("alpha_id", alphaID)
}

// ListDataFields walks the paged data-field catalog for a search scope
func (c *Client) ListDataFields(ctx context.Context, scope SearchScope, datasetID, search string) ([]DataField, error) {
	const pageSize = 50

	buildURL := func(offset int) string {
		params := url.Values{}
		params.Set("instrumentType", scope.InstrumentType)
		params.Set("region", scope.Region)
		params.Set("delay", strconv.Itoa(scope.Delay))
		params.Set("universe", scope.Universe)
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		if search != "" {
			params.Set("search", search)
		} else {
			params.Set("dataset.id", datasetID)
		}
		return c.baseURL + "/data-fields?" + params.Encode()
	}

	fetchPage := func(offset int) (*dataFieldPage, error) {
		resp, err := c.call(ctx, http.MethodGet, buildURL(offset), nil)
		if err != nil {
			return nil, err
		}
		var page dataFieldPage
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeAPIResponse, "failed to parse data-field page")
		}
		return &page, nil
	}

	first, err := fetchPage(0)
	if err != nil {
		return nil, err
	}

	fields := make([]DataField, 0, first.Count)
	fields = append(fields, first.Results...)
	for offset := pageSize; offset < first.Count; offset += pageSize {
		page, err := fetchPage(offset)
		if err != nil {
			return nil, err
		}
		fields = append(fields, page.Results...)
	}

	c.log.Info("Retrieved data fields",
		"count", len(fields), "dataset", datasetID, "search", search)
	return fields, nil
}

// parseRetryAfter tolerates fractional-second strings; anything
// unparseable counts as done
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
