package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"silver-stress-tracker/internal/export"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
)

const (
	defaultSnapshotLimit = 24
	maxSnapshotLimit     = 1000
)

// MetricsProvider computes the current metrics on demand.
type MetricsProvider interface {
	CurrentMetrics(ctx context.Context) (snapshot.Metrics, error)
}

// SnapshotLister lists persisted snapshots, newest first.
type SnapshotLister interface {
	ListRecentSnapshots(ctx context.Context, limit int) ([]storage.Snapshot, error)
}

// Deps are the collaborators behind the routes. Nil members disable their routes.
type Deps struct {
	Metrics   MetricsProvider
	Snapshots SnapshotLister
	Health    func(ctx context.Context) error
	Telemetry http.Handler
	Logger    zerolog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter wires the HTTP API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger.With().Str("component", "httpapi").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(r.Context()); err != nil {
				respondError(w, r, http.StatusServiceUnavailable, err)
				return
			}
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	if deps.Telemetry != nil {
		r.Method(http.MethodGet, "/metrics", deps.Telemetry)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		if deps.Metrics != nil {
			r.Get("/metrics/current", func(w http.ResponseWriter, r *http.Request) {
				m, err := deps.Metrics.CurrentMetrics(r.Context())
				if err != nil {
					logger.Error().Err(err).Msg("current metrics failed")
					respondError(w, r, http.StatusInternalServerError, err)
					return
				}
				render.JSON(w, r, m)
			})
			r.Get("/badge", func(w http.ResponseWriter, r *http.Request) {
				m, err := deps.Metrics.CurrentMetrics(r.Context())
				if err != nil {
					respondError(w, r, http.StatusInternalServerError, err)
					return
				}
				render.JSON(w, r, export.BuildBadge(m.Composite))
			})
		}

		if deps.Snapshots != nil {
			r.Get("/snapshots", func(w http.ResponseWriter, r *http.Request) {
				limit := defaultSnapshotLimit
				if raw := r.URL.Query().Get("limit"); raw != "" {
					n, err := strconv.Atoi(raw)
					if err != nil || n <= 0 || n > maxSnapshotLimit {
						respondError(w, r, http.StatusBadRequest, errBadLimit)
						return
					}
					limit = n
				}
				snaps, err := deps.Snapshots.ListRecentSnapshots(r.Context(), limit)
				if err != nil {
					respondError(w, r, http.StatusInternalServerError, err)
					return
				}
				render.JSON(w, r, snaps)
			})
		}
	})

	return r
}

var errBadLimit = errors.New("limit must be an integer between 1 and 1000")

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
