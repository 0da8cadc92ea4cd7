package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/playbook"
)

// ExecuteRequest is the body of POST /api/v1/{provider}/execute.
type ExecuteRequest struct {
	Command string `json:"command"`
}

// RemediateRequest is the body of POST /api/v1/remediations. PlaybookID may
// be empty, in which case the library is matched against the finding.
type RemediateRequest struct {
	PlaybookID string           `json:"playbook_id,omitempty"`
	Finding    playbook.Finding `json:"finding"`
	Initiator  string           `json:"initiator"`
	DryRun     bool             `json:"dry_run"`
}

// ApproveRequest is the body of POST /api/v1/remediations/{id}/approve.
type ApproveRequest struct {
	Approver string `json:"approver"`
	DryRun   bool   `json:"dry_run"`
}

// RejectRequest is the body of POST /api/v1/remediations/{id}/reject.
type RejectRequest struct {
	Rejector string `json:"rejector"`
	Reason   string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for kind, gw := range s.gateways {
		if !gw.IsRunning() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "not_ready",
				"provider": string(kind),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) gatewayFor(w http.ResponseWriter, r *http.Request) (cloud.Kind, *gateway.Gateway, bool) {
	kind, ok := cloud.ParseKind(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return "", nil, false
	}
	gw, ok := s.gateways[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "provider not configured")
		return "", nil, false
	}
	return kind, gw, true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	kind, gw, ok := s.gatewayFor(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx, span := otel.Tracer("cloudgate/api").Start(r.Context(), "gateway.execute")
	span.SetAttributes(attribute.String("provider", string(kind)))
	defer span.End()

	result, err := gw.ExecuteCommand(ctx, req.Command)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.CommandsExecuted.WithLabelValues(string(kind), string(result.Status)).Inc()
		s.metrics.CommandDuration.WithLabelValues(string(kind)).Observe(result.Elapsed.Seconds())
		switch result.ErrorKind {
		case executor.KindAuthError:
			s.metrics.AuthErrors.WithLabelValues(string(kind)).Inc()
		case executor.KindTimeout:
			s.metrics.Timeouts.WithLabelValues(string(kind)).Inc()
		case executor.KindValidationError:
			s.metrics.CommandsDenied.WithLabelValues(string(kind), "validation").Inc()
		}
		if result.Truncated {
			s.metrics.OutputTruncated.WithLabelValues(string(kind)).Inc()
		}
	}

	// Expected failures travel as structured results with HTTP 200; the
	// caller discriminates on error_kind.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCurrentContext(w http.ResponseWriter, r *http.Request) {
	_, gw, ok := s.gatewayFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, gw.CurrentContext())
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	_, gw, ok := s.gatewayFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, gw.ListContexts())
}

func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	playbooks := s.library.All()
	if category := r.URL.Query().Get("category"); category != "" {
		playbooks = s.library.ByCategory(category)
	} else if severity := r.URL.Query().Get("severity"); severity != "" {
		playbooks = s.library.BySeverity(severity)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playbooks": playbooks,
		"count":     len(playbooks),
	})
}

func (s *Server) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, ok := s.library.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "playbook not found")
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

func (s *Server) handleExportPlaybook(w http.ResponseWriter, r *http.Request) {
	data, err := s.library.Export(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	var req RemediateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Initiator == "" {
		writeError(w, http.StatusBadRequest, "initiator is required")
		return
	}

	var (
		pb playbook.Playbook
		ok bool
	)
	if req.PlaybookID != "" {
		pb, ok = s.library.Get(req.PlaybookID)
		if !ok {
			writeError(w, http.StatusNotFound, "playbook not found")
			return
		}
	} else {
		pb, ok = s.library.Match(req.Finding)
		if !ok {
			writeError(w, http.StatusNotFound, "no playbook matches finding category")
			return
		}
	}

	ctx, span := otel.Tracer("cloudgate/api").Start(r.Context(), "playbook.execute")
	span.SetAttributes(
		attribute.String("playbook", pb.ID),
		attribute.Bool("dry_run", req.DryRun),
	)
	defer span.End()

	exec, err := s.executor.Execute(ctx, pb, req.Finding, req.Initiator, req.DryRun)
	if err != nil {
		writePlaybookError(w, err)
		return
	}
	s.observeExecution(exec)
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}
	exec, err := s.executor.Approve(r.Context(), chi.URLParam(r, "id"), req.Approver, req.DryRun)
	if err != nil {
		writePlaybookError(w, err)
		return
	}
	s.observeExecution(exec)
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rejector == "" {
		writeError(w, http.StatusBadRequest, "rejector is required")
		return
	}
	exec, err := s.executor.Reject(chi.URLParam(r, "id"), req.Rejector, req.Reason)
	if err != nil {
		writePlaybookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executor.Rollback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePlaybookError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Rollbacks.WithLabelValues(exec.PlaybookID, strconv.FormatBool(exec.RollbackDirty)).Inc()
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executor.Get(chi.URLParam(r, "id"))
	if err != nil {
		writePlaybookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	history := s.executor.History(playbook.HistoryFilter{
		PlaybookID: r.URL.Query().Get("playbook_id"),
		FindingID:  r.URL.Query().Get("finding_id"),
		Limit:      limit,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": history,
		"count":      len(history),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries := s.trail.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) observeExecution(exec *playbook.Execution) {
	if s.metrics == nil || exec == nil {
		return
	}
	s.metrics.PlaybookExecutions.WithLabelValues(exec.PlaybookID, string(exec.Status)).Inc()
	if exec.Status.Terminal() && !exec.EndedAt.IsZero() {
		s.metrics.PlaybookDuration.WithLabelValues(exec.PlaybookID).
			Observe(exec.EndedAt.Sub(exec.StartedAt).Seconds())
	}
	for _, ar := range exec.ActionResults {
		if ar.Status != playbook.ActionPending {
			s.metrics.ActionsRun.WithLabelValues(ar.Kind, string(ar.Status)).Inc()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writePlaybookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playbook.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, playbook.ErrState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, playbook.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, playbook.ErrResourceExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
