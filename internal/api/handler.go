package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/pipeline"
	"github.com/openfraud/merlin/internal/report"
	"github.com/openfraud/merlin/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	report  *report.Materializer
	runner  *pipeline.Runner
	version string

	// runMu serializes pipeline runs and rebuilds: day materialization
	// is delete-then-insert and must not race with itself.
	runMu sync.Mutex
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, rep *report.Materializer, runner *pipeline.Runner, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		report:  rep,
		runner:  runner,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// AlertResponse is the JSON shape of one fraud alert.
type AlertResponse struct {
	ID           string `json:"id"`
	EventAt      string `json:"eventAt"`
	BusinessDate string `json:"businessDate"`
	Passport     string `json:"passport,omitempty"`
	FullName     string `json:"fullName,omitempty"`
	Phone        string `json:"phone,omitempty"`
	RuleType     string `json:"ruleType"`
	RuleText     string `json:"ruleText"`
	TransID      string `json:"transId"`
	ReportAt     string `json:"reportAt"`
}

// GetAlerts handles GET /api/v1/alerts/{date}.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}

	alerts, err := h.repo.AlertsForDay(r.Context(), day)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alerts",
		})
		return
	}

	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, AlertResponse{
			ID:           a.ID,
			EventAt:      a.EventAt.Format(time.RFC3339),
			BusinessDate: a.BusinessDate.Format("2006-01-02"),
			Passport:     a.Passport,
			FullName:     a.FullName,
			Phone:        a.Phone,
			RuleType:     string(a.RuleType),
			RuleText:     a.RuleType.Description(),
			TransID:      a.TransID,
			ReportAt:     a.ReportAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"businessDate": day.Format("2006-01-02"),
		"count":        len(out),
		"alerts":       out,
	})
}

// GetUnreportedDays handles GET /api/v1/reports/unreported.
func (h *Handler) GetUnreportedDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.report.FindUnreportedDays(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to find unreported days",
		})
		return
	}

	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(out),
		"days":  out,
	})
}

// RebuildDay handles POST /api/v1/reports/{date}/rebuild.
func (h *Handler) RebuildDay(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()

	count, err := h.report.Rebuild(r.Context(), day)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rebuild failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"businessDate": day.Format("2006-01-02"),
		"alertCount":   count,
	})
}

// TriggerProcess handles POST /api/v1/process: one full inbox run.
func (h *Handler) TriggerProcess(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pipeline not available",
		})
		return
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()

	res, err := h.runner.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filesLoaded":  res.FilesLoaded,
		"filesSkipped": res.FilesSkipped,
		"daysRebuilt":  res.DaysRebuilt,
		"alerts":       res.Alerts,
	})
}

func parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "date must be YYYY-MM-DD",
		})
		return time.Time{}, false
	}
	return day.UTC(), true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
