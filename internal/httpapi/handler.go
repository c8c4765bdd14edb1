package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"sensorfix/internal/catalog"
	"sensorfix/internal/db"
	"sensorfix/internal/devtree"
	"sensorfix/internal/metrics"
	"sensorfix/internal/repair"
	"sensorfix/internal/sqlcgen"
)

// RepairQueries is the slice of the generated queries the API uses.
// *sqlcgen.Queries satisfies this.
type RepairQueries interface {
	InsertRepairRun(ctx context.Context, arg sqlcgen.InsertRepairRunParams) (sqlcgen.RepairRun, error)
	GetRepairRun(ctx context.Context, id string) (sqlcgen.RepairRun, error)
	GetLatestRepairRun(ctx context.Context) (sqlcgen.RepairRun, error)
	ListRepairRuns(ctx context.Context, arg sqlcgen.ListRepairRunsParams) ([]sqlcgen.RepairRun, error)
	ListRepairRunLogs(ctx context.Context, arg sqlcgen.ListRepairRunLogsParams) ([]sqlcgen.RepairRunLog, error)
	InsertAuditEvent(ctx context.Context, arg sqlcgen.InsertAuditEventParams) error
}

// Fixes is the defect registry. *repair.Registry satisfies this.
type Fixes interface {
	All() []*repair.Fix
	Get(name string) (*repair.Fix, bool)
}

// Deps are the optional collaborators behind the API. Missing ones turn
// their routes into 503 responses.
type Deps struct {
	Fixes   Fixes
	Devices devtree.Manager
	Catalog *catalog.Catalog
	Metrics *metrics.Metrics
}

type Handler struct {
	log     zerolog.Logger
	pool    *db.Pool
	repairs RepairQueries
	fixes   Fixes
	devices devtree.Manager
	catalog *catalog.Catalog
	metrics *metrics.Metrics
}

func NewHandler(log zerolog.Logger, pool *db.Pool, deps Deps) *Handler {
	h := &Handler{
		log:     log,
		pool:    pool,
		fixes:   deps.Fixes,
		devices: deps.Devices,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
	}
	if q := pool.Queries(); q != nil {
		h.repairs = q
	}
	if h.catalog == nil {
		h.catalog = catalog.Default()
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			// Diagnosis enumerates the device tree and may consult the
			// status probe; applying only enqueues.
			r.Use(middleware.Timeout(15 * time.Second))

			r.Get("/devices", h.handleListDevices)

			r.Route("/defects", func(r chi.Router) {
				r.Get("/", h.handleListDefects)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", h.handleGetDefect)
					r.Post("/apply", h.handleApplyDefect)
				})
			})

			r.Route("/repairs", func(r chi.Router) {
				r.Get("/", h.handleListRepairs)
				r.Get("/latest", h.handleLatestRepair)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetRepair)
					r.Get("/logs", h.handleListRepairLogs)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// decodeJSONStrict decodes a single JSON value. An empty body leaves dst
// untouched.
func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ensureRepairs(w http.ResponseWriter) bool {
	if h.repairs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureFixes(w http.ResponseWriter) bool {
	if h.fixes == nil {
		h.writeError(w, http.StatusServiceUnavailable, "repair_unavailable", "no defects registered", nil)
		return false
	}
	return true
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}
