package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deixis/clibridge/internal/history"
	"github.com/deixis/clibridge/internal/model"
	"github.com/deixis/clibridge/internal/runner"
)

// handleHealthz handles GET /healthz. The backend probe is advisory: the
// server is healthy even when the backend is missing, since transforms then
// fall back to the original text.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status(r.Context())
	status := "ok"
	if !st.Available {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           status,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		BackendAvailable: st.Available,
		BackendVersion:   st.Version,
		BackendError:     st.Error,
	})
}

// handleModels handles GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ModelsResponse{
		Default: model.Resolve(s.config.DefaultModel, ""),
		Models:  model.Variants(),
	})
}

// handleTransform handles POST /v1/transform. Backend failures are reported
// in the body with fallback=true and HTTP 200; only malformed requests are
// rejected.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Instruction) == "" && strings.TrimSpace(req.Text) != "" {
		s.writeError(w, http.StatusBadRequest, "instruction is required")
		return
	}

	out := s.engine.Transform(r.Context(), runner.Request{
		Text:        req.Text,
		Instruction: req.Instruction,
		Model:       req.Model,
	})
	respondJSON(w, http.StatusOK, out)
}

// handleGetRun handles GET /v1/runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	rec, err := s.engine.Inspect(id)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	respondJSON(w, http.StatusOK, toRunResponse(rec))
}

// handleListRuns handles GET /v1/runs, newest first. Output is omitted; fetch
// a single run for it.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunLimit))
			return
		}
		limit = n
	}

	runs := []RunResponse{}
	for _, rec := range s.engine.Recent(limit) {
		run := toRunResponse(rec)
		run.Output = ""
		runs = append(runs, run)
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func toRunResponse(rec *history.Record) RunResponse {
	return RunResponse{
		RunID:       rec.ID,
		Model:       rec.Model,
		Status:      string(rec.Status),
		Kind:        rec.Kind,
		Detail:      rec.Detail,
		InputDigest: rec.InputDigest,
		InputBytes:  rec.InputBytes,
		Output:      rec.Output,
		DurationMS:  rec.DurationMS,
		CreatedAt:   rec.CreatedAt,
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
