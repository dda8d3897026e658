package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/automation"
)

// ChannelRoutine carries finished routine runs.
const ChannelRoutine = "routine"

type routineRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Enabled     *bool             `json:"enabled,omitempty"` // default true
	Steps       []automation.Step `json:"steps"`
}

func (req routineRequest) routine() *automation.Routine {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &automation.Routine{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Steps:       req.Steps,
	}
}

// decodeRoutine reads a routine body, keeping numeric arguments as
// json.Number.
func decodeRoutine(body io.Reader) (routineRequest, error) {
	var req routineRequest
	data, err := io.ReadAll(body)
	if err != nil {
		return req, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return req, dec.Decode(&req)
}

func (s *Server) handleListRoutines(w http.ResponseWriter, _ *http.Request) {
	routines := s.routines.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"routines": routines,
		"count":    len(routines),
	})
}

func (s *Server) handleGetRoutine(w http.ResponseWriter, r *http.Request) {
	rt, err := s.routines.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleCreateRoutine(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoutine(r.Body)
	if err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	rt := req.routine()
	if err := s.routines.Create(r.Context(), rt); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// handleUpdateRoutine replaces a routine wholesale.
func (s *Server) handleUpdateRoutine(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoutine(r.Body)
	if err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	rt := req.routine()
	if err := s.routines.Update(r.Context(), chi.URLParam(r, "name"), rt); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	if err := s.routines.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunRoutine runs a routine to completion. Step failures are part of
// the 200 response; only a routine that cannot start is an error.
func (s *Server) handleRunRoutine(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Run(r.Context(), chi.URLParam(r, "name"), operatorName(r.Context()), audit.SourceAPI)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRoutineRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.engine.Runs(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// routineRelay broadcasts finished runs on ChannelRoutine.
type routineRelay struct{ hub *Hub }

func (r routineRelay) RoutineFinished(run automation.Run) {
	r.hub.Broadcast(ChannelRoutine, "", run)
}
