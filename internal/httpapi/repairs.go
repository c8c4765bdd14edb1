package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"sensorfix/internal/sqlcgen"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type repairRun struct {
	ID          string         `json:"id"`
	Defect      string         `json:"defect"`
	Status      string         `json:"status"`
	Requester   *string        `json:"requester,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
}

type repairRunLog struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type repairRunPage struct {
	Runs       []repairRun `json:"runs"`
	NextCursor *string     `json:"next_cursor,omitempty"`
}

type repairRunLogPage struct {
	Logs       []repairRunLog `json:"logs"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}

func toRepairRun(r sqlcgen.RepairRun) repairRun {
	return repairRun{
		ID:          r.ID,
		Defect:      r.Defect,
		Status:      r.Status,
		Requester:   r.Requester,
		Stats:       r.Stats,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		LastError:   r.LastError,
	}
}

func parseLimit(r *http.Request) (int32, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultPageLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxPageLimit {
		return 0, errors.New("limit must be between 1 and 200")
	}
	return int32(n), nil
}

// Cursors encode the (timestamp, id) of the last row returned.
func encodeCursor(t time.Time, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339Nano) + "|" + id))
}

func decodeCursor(raw string) (time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return time.Time{}, "", errors.New("cursor is not valid base64")
	}
	ts, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return time.Time{}, "", errors.New("cursor is malformed")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", errors.New("cursor timestamp is invalid")
	}
	return t, id, nil
}

func (h *Handler) handleListRepairs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	arg := sqlcgen.ListRepairRunsParams{Limit: limit + 1}
	if d := strings.TrimSpace(r.URL.Query().Get("defect")); d != "" {
		arg.Defect = &d
	}
	if c := r.URL.Query().Get("cursor"); c != "" {
		t, id, err := decodeCursor(c)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"cursor": c})
			return
		}
		arg.BeforeStartedAt, arg.BeforeID = &t, &id
	}

	if !h.ensureRepairs(w) {
		return
	}
	rows, err := h.repairs.ListRepairRuns(r.Context(), arg)
	if err != nil {
		h.log.Error().Err(err).Msg("list repair runs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list repair runs", nil)
		return
	}

	page := repairRunPage{Runs: make([]repairRun, 0, len(rows))}
	if len(rows) > int(limit) {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next := encodeCursor(last.StartedAt, last.ID)
		page.NextCursor = &next
	}
	for _, row := range rows {
		page.Runs = append(page.Runs, toRepairRun(row))
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleLatestRepair(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRepairs(w) {
		return
	}
	row, err := h.repairs.GetLatestRepairRun(r.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "not_found", "no repair runs yet", nil)
			return
		}
		h.log.Error().Err(err).Msg("get latest repair run failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch repair run", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toRepairRun(row))
}

func (h *Handler) writeRunLookupError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		h.writeError(w, http.StatusNotFound, "not_found", "repair run not found", map[string]any{"id": id})
	case isInvalidUUID(err):
		h.writeError(w, http.StatusBadRequest, "invalid_id", "repair run id is not a valid uuid", map[string]any{"id": id})
	default:
		h.log.Error().Err(err).Str("id", id).Msg("get repair run failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch repair run", nil)
	}
}

func (h *Handler) handleGetRepair(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureRepairs(w) {
		return
	}
	row, err := h.repairs.GetRepairRun(r.Context(), id)
	if err != nil {
		h.writeRunLookupError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRepairRun(row))
}

func (h *Handler) handleListRepairLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	arg := sqlcgen.ListRepairRunLogsParams{RunID: id, Limit: limit + 1}
	if c := r.URL.Query().Get("cursor"); c != "" {
		t, rawID, err := decodeCursor(c)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"cursor": c})
			return
		}
		logID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "cursor is malformed", map[string]any{"cursor": c})
			return
		}
		arg.BeforeCreatedAt, arg.BeforeID = &t, &logID
	}

	if !h.ensureRepairs(w) {
		return
	}
	if _, err := h.repairs.GetRepairRun(r.Context(), id); err != nil {
		h.writeRunLookupError(w, id, err)
		return
	}
	rows, err := h.repairs.ListRepairRunLogs(r.Context(), arg)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("list repair run logs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list repair run logs", nil)
		return
	}

	page := repairRunLogPage{Logs: make([]repairRunLog, 0, len(rows))}
	if len(rows) > int(limit) {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next := encodeCursor(last.CreatedAt, strconv.FormatInt(last.ID, 10))
		page.NextCursor = &next
	}
	for _, row := range rows {
		page.Logs = append(page.Logs, repairRunLog{ID: row.ID, Level: row.Level, Message: row.Message, CreatedAt: row.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, page)
}
