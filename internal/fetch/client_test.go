package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1000
		opts.Burst = 100
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("appKey"))
		assert.Equal(t, "100", r.URL.Query().Get("count"))
		assert.Equal(t, "1", r.URL.Query().Get("version"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"melon":{"count":2}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{})
	var out struct {
		Melon struct {
			Count int `json:"count"`
		} `json:"melon"`
	}
	err := c.GetJSON(context.Background(), srv.URL+"/charts/realtime?version=1",
		url.Values{"count": {"100"}}, http.Header{"appKey": {"secret"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Melon.Count)
}

func TestGetJSON_MalformedIsFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient(t, Options{}).GetJSON(context.Background(), srv.URL, nil, nil, &out)
	require.Error(t, err)
	assert.True(t, IsFormat(err))
	assert.False(t, IsTransient(err))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, Options{}).GetHTML(context.Background(), srv.URL, nil)
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsFormat(err))
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Timeout: 20 * time.Millisecond})
	_, err := c.GetHTML(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, Options{}).GetHTML(context.Background(), addr, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCancelledContextIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := newTestClient(t, Options{}).GetHTML(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestGetHTML_DecodesEUCKR(t *testing.T) {
	// "가" in EUC-KR
	body := []byte{'<', 'p', '>', 0xb0, 0xa1, '<', '/', 'p', '>'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=euc-kr")
		w.Write(body)
	}))
	defer srv.Close()

	got, err := newTestClient(t, Options{}).GetHTML(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "<p>가</p>", string(got))
}

func TestUserAgentRotation(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.UserAgent())
		mu.Unlock()
	}))
	defer srv.Close()

	c := newTestClient(t, Options{UserAgents: []string{"a", "b"}})
	for range 3 {
		_, err := c.GetHTML(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "a"}, seen)
}

func TestProxyStretchesTimeout(t *testing.T) {
	c := newTestClient(t, Options{
		Timeout:            time.Second,
		ProxyURL:           "http://proxy.internal:3128",
		ProxyTimeoutFactor: 10,
	})
	assert.Equal(t, 10*time.Second, c.http.Timeout)
}

func TestNew_BadProxy(t *testing.T) {
	_, err := New(Options{ProxyURL: "://bad"})
	assert.Error(t, err)
}
