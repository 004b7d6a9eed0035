package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// createRequest is the body of POST /api/runs.
type createRequest struct {
	Org   string `json:"org"`
	User  string `json:"user"`
	Year  int    `json:"year"`
	Start bool   `json:"start"`
}

type retryRequest struct {
	Mode schema.RetryMode `json:"mode"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := schema.RunFilter{
		Org:    q.Get("org"),
		User:   q.Get("user"),
		Status: schema.RunStatus(q.Get("status")),
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, contract.NewValidationError("year", "must be a number (received %q)", v))
			return
		}
		filter.Year = year
	}
	runs, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]schema.RunStatusView, 0, len(runs))
	for _, run := range runs {
		views = append(views, run.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, contract.NewValidationError("body", "invalid JSON: %v", err))
		return
	}
	run, err := s.svc.Create(r.Context(), req.Org, req.User, req.Year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Start {
		if err := s.svc.Start(r.Context(), run.ID); err != nil {
			s.writeError(w, err)
			return
		}
		s.launch(run.ID)
	}
	s.writeStatus(w, r, run.ID, http.StatusCreated)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.svc.RankedUnits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("sampled"); v != "" {
		sampledOnly, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, contract.NewValidationError("sampled", "must be a boolean (received %q)", v))
			return
		}
		if sampledOnly {
			sampled := make([]schema.WorkUnit, 0, len(units))
			for _, u := range units {
				if u.IsSampled {
					sampled = append(sampled, u)
				}
			}
			units = sampled
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, contract.NewValidationError("limit", "must be a non-negative number (received %q)", v))
			return
		}
		if limit > 0 && len(units) > limit {
			units = units[:limit]
		}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.svc.Reviews(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if reviews == nil {
		reviews = []schema.AiReview{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, contract.NewValidationError("body", "invalid JSON: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.AnnotateReport(r.Context(), id, req.Notes); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleReport(w, r)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.FinalizeReport(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleReport(w, r)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Start(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.launch(id)
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Pause(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, contract.NewValidationError("body", "invalid JSON: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.Retry(r.Context(), id, req.Mode); err != nil {
		s.writeError(w, err)
		return
	}
	s.launch(id)
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	view, err := s.svc.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, code, view)
}

// statusCode maps the error taxonomy to HTTP.
func statusCode(err error) int {
	switch {
	case contract.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, contract.ErrRunNotFound), errors.Is(err, contract.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, contract.ErrRunBusy), errors.Is(err, contract.ErrInvalidTransition), errors.Is(err, contract.ErrReportFinalized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
