package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ghalamif/proxyscope/internal/app/api"
	"github.com/ghalamif/proxyscope/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSnapshotter struct {
	mu        sync.Mutex
	builds    int
	history   map[int][]domain.TrafficSample
	lastLimit int
	err       error
}

func (f *fakeSnapshotter) BuildSnapshot(context.Context) domain.SystemSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	return domain.SystemSnapshot{
		ProxyRunning:  true,
		EventCount:    f.builds,
		TotalDownlink: 1234,
		Endpoints: []domain.EndpointSnapshot{{
			Endpoint: domain.Endpoint{Port: 10001, Path: "/"},
			Online:   true,
			Samples:  []domain.TrafficSample{},
		}},
	}
}

func (f *fakeSnapshotter) History(_ context.Context, port int, limit int) ([]domain.TrafficSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.history[port]; ok {
		return s, nil
	}
	return []domain.TrafficSample{}, nil
}

func newServer(t *testing.T, snap *fakeSnapshotter, clock quartz.Clock) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "proxyscope_test_total", Help: "test"}))
	s := api.New(snap, api.Options{
		Logger:         slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Clock:          clock,
		Gatherer:       reg,
		StreamInterval: time.Second,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestSnapshotEndpoint(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fakeSnapshotter{}, quartz.NewReal())
	resp, body := get(t, srv.URL+"/api/snapshot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap domain.SystemSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.ProxyRunning)
	assert.EqualValues(t, 1234, snap.TotalDownlink)
	require.Len(t, snap.Endpoints, 1)
	assert.Equal(t, 10001, snap.Endpoints[0].Port)
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	snap := &fakeSnapshotter{history: map[int][]domain.TrafficSample{
		10001: {
			{Timestamp: time.Unix(1, 0).UTC(), Port: 10001, Uplink: 1},
			{Timestamp: time.Unix(2, 0).UTC(), Port: 10001, Uplink: 2},
		},
	}}
	srv := newServer(t, snap, quartz.NewReal())

	resp, body := get(t, srv.URL+"/api/history/10001?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var samples []domain.TrafficSample
	require.NoError(t, json.Unmarshal(body, &samples))
	require.Len(t, samples, 2)
	assert.EqualValues(t, 1, samples[0].Uplink)
	assert.Equal(t, 2, snap.lastLimit)

	resp, body = get(t, srv.URL+"/api/history/4242")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = get(t, srv.URL+"/api/history/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, _ = get(t, srv.URL+"/api/history/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/api/history/10001?limit=-4")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryUnavailable(t *testing.T) {
	t.Parallel()

	snap := &fakeSnapshotter{err: domain.ErrStoreUnavailable}
	srv := newServer(t, snap, quartz.NewReal())
	resp, body := get(t, srv.URL+"/api/history/10001")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "history unavailable")
}

func TestMetricsAndHealth(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &fakeSnapshotter{}, quartz.NewReal())
	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "proxyscope_test_total")

	resp, body = get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestStreamPushesSnapshots(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTicker("api", "stream")
	defer trap.Close()

	srv := newServer(t, &fakeSnapshotter{}, mClock)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap domain.SystemSnapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 1, snap.EventCount)

	trap.MustWait(ctx).MustRelease(ctx)
	mClock.Advance(time.Second).MustWait(ctx)
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 2, snap.EventCount)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := api.New(&fakeSnapshotter{}, api.Options{
		Logger:   slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Gatherer: prometheus.NewRegistry(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	http.DefaultClient.CloseIdleConnections()
}
