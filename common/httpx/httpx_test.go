package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
)

func init() {
	logger.UseNop()
}

func testClient(srv *httptest.Server, retries int, allow []string) *Client {
	return New(srv.Client(), Options{
		Retry:              retries,
		BackoffMin:         time.Millisecond,
		BackoffMax:         2 * time.Millisecond,
		HostAllowlist:      allow,
		MaxConsecutiveFail: 2,
		CircuitOpen:        time.Minute,
	})
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		pattern, host string
		want          bool
	}{
		{"*", "anything.example", true},
		{"dummyjson.com", "dummyjson.com", true},
		{"DummyJSON.com", "dummyjson.com", true},
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", true},
		{"*.example.com", "badexample.com", false},
		{"example.com", "api.example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchHost(tt.pattern, tt.host), "%s vs %s", tt.pattern, tt.host)
	}
}

func TestDoBlocksHostOutsideAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	}))
	defer srv.Close()

	c := testClient(srv, 0, []string{"dummyjson.com"})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(req)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(srv, 2, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv, 3, nil)
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv, 0, nil)
	for i := 0; i < 2; i++ {
		err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
		assert.True(t, errors.Is(err, ErrServerStatus), "got %v", err)
	}
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
