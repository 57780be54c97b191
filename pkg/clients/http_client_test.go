package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ideagen/harvester/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*APIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewAPIClient(APIClientConfig{
		BaseURL:   server.URL,
		UserAgent: "harvester-test/1.0",
	}, zaptest.NewLogger(t))
	return client, server
}

func TestGetJSONDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "harvester-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"name":"widget","count":2}`))
	}))

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	params := url.Values{"limit": []string{"25"}}
	require.NoError(t, client.GetJSON(context.Background(), "/things", params, &out))
	assert.Equal(t, "widget", out.Name)
	assert.Equal(t, 2, out.Count)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType errors.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{"forbidden", http.StatusForbidden, errors.ErrorTypeAuthentication},
		{"not found", http.StatusNotFound, errors.ErrorTypeNotFound},
		{"rate limited", http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{"server error", http.StatusBadGateway, errors.ErrorTypeConnection},
		{"teapot", http.StatusTeapot, errors.ErrorTypeExtraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			err := client.GetJSON(context.Background(), "/x", nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType), "got %v", err)
		})
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.GetJSON(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 17*time.Second, errors.RetryAfter(err))
}

func TestCircuitOpensAfterRepeatedServerErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 5; i++ {
		err := client.GetJSON(context.Background(), "/x", nil, nil)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, client.breaker.State())
	err := client.GetJSON(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	for i := 0; i < 10; i++ {
		err := client.GetJSON(context.Background(), "/missing", nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, client.breaker.State())
}

func TestGetRawReturnsBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(")]}'\n{\"ok\":true}"))
	}))

	data, err := client.GetRaw(context.Background(), "/guarded", nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ok":true`)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 42*time.Second, parseRetryAfter("42"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 25*time.Second)
}
