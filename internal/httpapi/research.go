// Package httpapi exposes the polling surface: start a task, poll its
// snapshot, request a follow-up round, fetch stored reports. The core is
// always pulled, never pushes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/agents"
	"github.com/researchforge/researchd/internal/orchestrator"
	"github.com/researchforge/researchd/internal/storage"
	"github.com/researchforge/researchd/internal/task"
)

// ResearchHandler serves the research task endpoints.
type ResearchHandler struct {
	manager   *orchestrator.Manager
	reports   *storage.Store
	providers []string
	logger    *zap.Logger
}

// NewResearchHandler builds the handler. reports may be nil when persistence
// is disabled.
func NewResearchHandler(manager *orchestrator.Manager, reports *storage.Store, providers []string, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{manager: manager, reports: reports, providers: providers, logger: logger}
}

// RegisterRoutes attaches all endpoints to mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/research", h.handleResearch)
	mux.HandleFunc("/api/research/", h.handleResearchByID)
	mux.HandleFunc("/api/reports", h.handleListReports)
	mux.HandleFunc("/api/reports/", h.handleGetReport)
	mux.HandleFunc("/api/providers", h.handleProviders)
}

// handleResearch: POST /api/research {"topic": "..."} -> {"task_id": "..."}
// GET lists all tasks.
func (h *ResearchHandler) handleResearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Topic string `json:"topic"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id, err := h.manager.StartResearch(req.Topic)
		if err != nil {
			if errors.Is(err, agents.ErrEmptyTopic) {
				writeError(w, http.StatusBadRequest, "topic is required")
				return
			}
			h.logger.Error("Failed to start research", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start research")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})

	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.manager.ListTasks())

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleResearchByID routes GET /api/research/{id} (snapshot) and
// POST /api/research/{id}/follow-up (spawn child round).
func (h *ResearchHandler) handleResearchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/research/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/follow-up"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		childID, err := h.manager.RequestFollowUp(id)
		if err != nil {
			switch {
			case errors.Is(err, task.ErrTaskNotFound):
				writeError(w, http.StatusNotFound, "task not found")
			case errors.Is(err, task.ErrNoReport), errors.Is(err, task.ErrInvalidTransition):
				writeError(w, http.StatusConflict, "task has no completed report to follow up on")
			default:
				h.logger.Error("Failed to start follow-up", zap.String("task_id", id), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to start follow-up")
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": childID})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := h.manager.GetTaskSnapshot(rest)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListReports: GET /api/reports -> stored report metadata.
func (h *ResearchHandler) handleListReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.reports == nil {
		writeJSON(w, http.StatusOK, []storage.ReportInfo{})
		return
	}
	infos, err := h.reports.List()
	if err != nil {
		h.logger.Error("Failed to list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if infos == nil {
		infos = []storage.ReportInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleGetReport: GET /api/reports/{id} -> {"report": "<markdown>"}
func (h *ResearchHandler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if id == "" || h.reports == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	content, err := h.reports.Load(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": content})
}

// handleProviders: GET /api/providers -> configured provider order.
func (h *ResearchHandler) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.providers)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
