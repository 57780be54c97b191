package clients

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/errors"
)

// APIClientConfig configures an APIClient.
type APIClientConfig struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	Headers        map[string]string
	CircuitBreaker *CircuitBreakerConfig
}

// APIClient is a JSON HTTP client for platform APIs. Every response
// status is classified into the shared error taxonomy so callers can
// make retry decisions on error type alone.
type APIClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewAPIClient creates an APIClient. The underlying http.Client may be
// replaced via SetHTTPClient, e.g. with an oauth2 transport.
func NewAPIClient(cfg APIClientConfig, logger *zap.Logger) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}

	breakerCfg := DefaultCircuitBreakerConfig()
	if cfg.CircuitBreaker != nil {
		breakerCfg = *cfg.CircuitBreaker
	}

	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		breaker: NewCircuitBreaker(breakerCfg, logger),
		logger:  logger.With(zap.String("component", "api_client")),
	}
}

// SetHTTPClient replaces the underlying http.Client, keeping the
// configured timeout when the replacement has none.
func (c *APIClient) SetHTTPClient(hc *http.Client) {
	if hc.Timeout == 0 {
		hc.Timeout = c.client.Timeout
	}
	c.client = hc
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *APIClient) GetJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, params, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *APIClient) PostJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "encode request body")
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, encoded, out)
}

// GetRaw issues a GET and returns the response body. Used by endpoints
// that prepend anti-hijacking prefixes to otherwise valid JSON.
func (c *APIClient) GetRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, params url.Values, body []byte, out interface{}) error {
	data, err := c.do(ctx, method, path, params, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExtraction, "decode response body").
			WithDetail("path", path)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	fullURL := c.buildURL(path, params)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled").
				WithDetail("url", fullURL)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("url", fullURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "read response body").
			WithDetail("url", fullURL)
	}

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("url", fullURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if err := classifyStatus(resp, fullURL); err != nil {
		if errors.IsRetryable(err) || resp.StatusCode >= http.StatusInternalServerError {
			c.breaker.RecordFailure()
		} else {
			// Client errors do not indicate upstream outage.
			c.breaker.RecordSuccess()
		}
		return nil, err
	}

	c.breaker.RecordSuccess()
	return data, nil
}

func (c *APIClient) buildURL(path string, params url.Values) string {
	full := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		full = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + params.Encode()
	}
	return full
}

// classifyStatus maps HTTP status codes into the shared error taxonomy.
func classifyStatus(resp *http.Response, fullURL string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.New(errors.ErrorTypeAuthentication, "authentication rejected").
			WithDetail("status", code).
			WithDetail("url", fullURL)
	case code == http.StatusNotFound:
		return errors.New(errors.ErrorTypeNotFound, "resource not found").
			WithDetail("status", code).
			WithDetail("url", fullURL)
	case code == http.StatusTooManyRequests:
		err := errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetail("status", code).
			WithDetail("url", fullURL)
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			err = err.WithRetryAfter(d)
		}
		return err
	case code >= 500:
		return errors.New(errors.ErrorTypeConnection, "upstream server error").
			WithDetail("status", code).
			WithDetail("url", fullURL)
	default:
		return errors.New(errors.ErrorTypeExtraction, "unexpected response status").
			WithDetail("status", code).
			WithDetail("url", fullURL)
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
