package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/config"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
	"silver-stress-tracker/internal/telemetry"
)

type stubMetrics struct {
	m   snapshot.Metrics
	err error
}

func (s stubMetrics) CurrentMetrics(context.Context) (snapshot.Metrics, error) { return s.m, s.err }

type stubSnapshots struct {
	gotLimit int
}

func (s *stubSnapshots) ListRecentSnapshots(_ context.Context, limit int) ([]storage.Snapshot, error) {
	s.gotLimit = limit
	return []storage.Snapshot{{ID: 7, RunID: "r", CompositeStatus: "green"}}, nil
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestCurrentMetrics(t *testing.T) {
	h := NewRouter(Deps{
		Metrics: stubMetrics{m: snapshot.Metrics{
			Composite: stress.CompositeScore{Score: 4, Total: 5, StatusColor: stress.Green, StatusLabel: "Market Easing"},
		}},
		Logger: zerolog.Nop(),
	})

	rec := do(t, h, "/api/v1/metrics/current")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body struct {
		Composite stress.CompositeScore `json:"composite"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Composite.Score)
	assert.Equal(t, stress.Green, body.Composite.StatusColor)

	rec = do(t, h, "/api/v1/badge")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"4/5 normalizing"`)
}

func TestCurrentMetricsError(t *testing.T) {
	h := NewRouter(Deps{Metrics: stubMetrics{err: errors.New("db down")}, Logger: zerolog.Nop()})
	rec := do(t, h, "/api/v1/metrics/current")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestHealthz(t *testing.T) {
	healthy := NewRouter(Deps{Health: func(context.Context) error { return nil }, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusOK, do(t, healthy, "/healthz").Code)

	sick := NewRouter(Deps{Health: func(context.Context) error { return errors.New("no db") }, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, sick, "/healthz").Code)
}

func TestSnapshotsLimit(t *testing.T) {
	lister := &stubSnapshots{}
	h := NewRouter(Deps{Snapshots: lister, Logger: zerolog.Nop()})

	rec := do(t, h, "/api/v1/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultSnapshotLimit, lister.gotLimit)
	assert.Contains(t, rec.Body.String(), `"run_id":"r"`)

	do(t, h, "/api/v1/snapshots?limit=5")
	assert.Equal(t, 5, lister.gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/v1/snapshots?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/v1/snapshots?limit=abc").Code)
}

func TestMetricsEndpointAndDisabledRoutes(t *testing.T) {
	h := NewRouter(Deps{Telemetry: telemetry.New().Handler(), Logger: zerolog.Nop()})
	rec := do(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "silverwatch_cycles_total")

	assert.Equal(t, http.StatusNotFound, do(t, h, "/api/v1/metrics/current").Code)
}

func TestServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second}, NewRouter(Deps{Logger: zerolog.Nop()}), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
