package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sensorfix/internal/repair"
	"sensorfix/internal/sqlcgen"
)

type defectView struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	AutoApply      bool              `json:"auto_apply"`
	Stages         []string          `json:"stages"`
	Diagnosis      *repair.Diagnosis `json:"diagnosis,omitempty"`
	DiagnosisError string            `json:"diagnosis_error,omitempty"`
}

type applyRequest struct {
	Requester *string `json:"requester,omitempty"`
}

func (h *Handler) describe(r *http.Request, f *repair.Fix) defectView {
	d := f.Defect()
	v := defectView{
		Name:        d.Name,
		Description: d.Description,
		AutoApply:   d.AutoApply,
		Stages:      make([]string, len(d.Stages)),
	}
	for i, s := range d.Stages {
		v.Stages[i] = string(s)
	}
	diag, err := f.Diagnose(r.Context())
	if err != nil {
		v.DiagnosisError = err.Error()
		return v
	}
	v.Diagnosis = &diag
	return v
}

func (h *Handler) handleListDefects(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFixes(w) {
		return
	}
	fixes := h.fixes.All()
	resp := make([]defectView, 0, len(fixes))
	for _, f := range fixes {
		resp = append(resp, h.describe(r, f))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"defects": resp})
}

func (h *Handler) lookupFix(w http.ResponseWriter, r *http.Request) (*repair.Fix, bool) {
	if !h.ensureFixes(w) {
		return nil, false
	}
	name := chi.URLParam(r, "name")
	f, ok := h.fixes.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "defect not found", map[string]any{"name": name})
		return nil, false
	}
	return f, true
}

func (h *Handler) handleGetDefect(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookupFix(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.describe(r, f))
}

func (h *Handler) handleApplyDefect(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Requester != nil {
		trimmed := strings.TrimSpace(*req.Requester)
		if trimmed == "" {
			req.Requester = nil
		} else {
			req.Requester = &trimmed
		}
	}

	f, ok := h.lookupFix(w, r)
	if !ok {
		return
	}
	if !h.ensureRepairs(w) {
		return
	}

	run, err := h.repairs.InsertRepairRun(r.Context(), sqlcgen.InsertRepairRunParams{
		Defect:    f.Name(),
		Status:    "queued",
		Requester: req.Requester,
		Stats:     map[string]any{"stage": "queued"},
	})
	if err != nil {
		h.log.Error().Err(err).Str("defect", f.Name()).Msg("enqueue repair failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to enqueue repair", nil)
		return
	}

	actor := "api"
	if req.Requester != nil {
		actor = *req.Requester
	}
	targetType := "repair_run"
	if err := h.repairs.InsertAuditEvent(r.Context(), sqlcgen.InsertAuditEventParams{
		Actor:      actor,
		Action:     "repair.enqueue",
		TargetType: &targetType,
		TargetID:   &run.ID,
		Details:    map[string]any{"defect": f.Name()},
	}); err != nil {
		h.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to write audit event")
	}

	h.writeJSON(w, http.StatusAccepted, toRepairRun(run))
}
