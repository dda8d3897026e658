package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/correlator"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/registry"
	"github.com/nerrad567/spherolink/internal/toy"
)

// maxCommandTimeout caps the timeout_ms a caller may request.
const maxCommandTimeout = 60 * time.Second

type toyResponse struct {
	registry.Toy
	Model string    `json:"model"`
	State toy.State `json:"state"`
}

type createToyRequest struct {
	Name        string       `json:"name"`
	Kind        command.Kind `json:"kind"`
	Address     string       `json:"address"`
	AutoConnect bool         `json:"auto_connect"`
}

type updateToyRequest struct {
	Name        *string       `json:"name,omitempty"`
	Kind        *command.Kind `json:"kind,omitempty"`
	Address     *string       `json:"address,omitempty"`
	AutoConnect *bool         `json:"auto_connect,omitempty"`
}

type executeRequest struct {
	Args      []any          `json:"args,omitempty"`
	Named     map[string]any `json:"named,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
}

type rawRequest struct {
	DeviceID  byte   `json:"device_id"`
	CommandID byte   `json:"command_id"`
	Payload   string `json:"payload"` // hex
	Target    *byte  `json:"target,omitempty"`
	NoReply   bool   `json:"no_reply,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type rawResponse struct {
	Sequence  byte   `json:"sequence"`
	ErrorCode byte   `json:"error_code"`
	SourceID  byte   `json:"source_id,omitempty"`
	Payload   string `json:"payload"`
}

type commandInfo struct {
	Name      string      `json:"name"`
	Subsystem string      `json:"subsystem"`
	DeviceID  byte        `json:"device_id"`
	CommandID byte        `json:"command_id"`
	Params    []paramInfo `json:"params"`
	Signature string      `json:"signature"`
	Returns   bool        `json:"returns"`
	TimeoutMS int64       `json:"timeout_ms"`
}

type paramInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type notificationInfo struct {
	Name      string `json:"name"`
	Subsystem string `json:"subsystem"`
	DeviceID  byte   `json:"device_id"`
	CommandID byte   `json:"command_id"`
	Arity     int    `json:"arity"`
}

func (s *Server) viewToy(t registry.Toy) toyResponse {
	resp := toyResponse{Toy: t, State: toy.StateDisconnected}
	if m, ok := toy.ModelOf(t.Kind); ok {
		resp.Model = m.DisplayName
	}
	if live, err := s.fleet.Get(t.Name); err == nil {
		resp.State = live.State()
	}
	return resp
}

func (s *Server) handleListToys(w http.ResponseWriter, _ *http.Request) {
	toys := s.registry.List()
	out := make([]toyResponse, len(toys))
	for i, t := range toys {
		out[i] = s.viewToy(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"toys":  out,
		"count": len(out),
	})
}

func (s *Server) handleGetToy(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewToy(*t))
}

// handleCreateToy registers a toy and adds it to the fleet. The registry
// row is rolled back if the fleet refuses it.
func (s *Server) handleCreateToy(w http.ResponseWriter, r *http.Request) {
	var req createToyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	t := &registry.Toy{Name: req.Name, Kind: req.Kind, Address: req.Address, AutoConnect: req.AutoConnect}
	if err := s.registry.Create(r.Context(), t); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if _, err := s.fleet.Add(t.Entry()); err != nil {
		if delErr := s.registry.Delete(r.Context(), t.Name); delErr != nil {
			s.logger.Error("rolling back toy registration failed", "toy", t.Name, "error", delErr)
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.viewToy(*t))
}

// handleUpdateToy applies a partial update. Changing the name, kind or
// address replaces the toy's session, which drops any live connection.
func (s *Server) handleUpdateToy(w http.ResponseWriter, r *http.Request) {
	var req updateToyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	current, err := s.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	before := current.Entry()

	updated := *current
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Kind != nil {
		updated.Kind = *req.Kind
	}
	if req.Address != nil {
		updated.Address = *req.Address
	}
	if req.AutoConnect != nil {
		updated.AutoConnect = *req.AutoConnect
	}

	if err := s.registry.Update(r.Context(), &updated); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	after := updated.Entry()
	if after.Name != before.Name || after.Kind != before.Kind || after.Address != before.Address {
		if err := s.fleet.Remove(before.Name); err != nil && !errors.Is(err, fleet.ErrNotFound) {
			s.logger.Warn("removing replaced toy failed", "toy", before.Name, "error", err)
		}
		if _, err := s.fleet.Add(after); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.viewToy(updated))
}

func (s *Server) handleDeleteToy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Delete(r.Context(), name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.fleet.Remove(name); err != nil && !errors.Is(err, fleet.ErrNotFound) {
		s.logger.Warn("removing toy from fleet failed", "toy", name, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnectToy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.fleet.Connect(r.Context(), name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeLiveToy(w, r, name)
}

func (s *Server) handleDisconnectToy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.fleet.Disconnect(name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeLiveToy(w, r, name)
}

func (s *Server) writeLiveToy(w http.ResponseWriter, r *http.Request, name string) {
	t, err := s.registry.Get(r.Context(), name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewToy(*t))
}

func (s *Server) handleToyStats(w http.ResponseWriter, r *http.Request) {
	t, err := s.fleet.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Stats())
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	t, err := s.fleet.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	descs := t.Table().Commands()
	out := make([]commandInfo, len(descs))
	for i, d := range descs {
		params := make([]paramInfo, len(d.Params))
		for j, p := range d.Params {
			params[j] = paramInfo{Name: p.Name, Type: p.Type.String()}
		}
		out[i] = commandInfo{
			Name:      d.Name,
			Subsystem: d.Subsystem.Name,
			DeviceID:  d.DeviceID(),
			CommandID: d.CommandID,
			Params:    params,
			Signature: d.Signature(),
			Returns:   d.Decode != nil,
			TimeoutMS: d.TimeoutOr(t.DefaultTimeout()).Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     t.Kind(),
		"commands": out,
		"count":    len(out),
	})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	t, err := s.fleet.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	notifs := t.Table().Notifications()
	out := make([]notificationInfo, len(notifs))
	for i, n := range notifs {
		out[i] = notificationInfo{
			Name:      n.Name,
			Subsystem: n.Subsystem.Name,
			DeviceID:  n.DeviceID(),
			CommandID: n.CommandID,
			Arity:     n.Arity,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":          t.Kind(),
		"notifications": out,
		"count":         len(out),
	})
}

// handleExecute runs a named command. The body is optional; numbers in args
// are kept as json.Number so integer parameters are not rounded.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Args != nil && req.Named != nil {
		writeBadRequest(w, "args and named are mutually exclusive")
		return
	}
	timeout, err := requestTimeout(req.TimeoutMS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	inv := fleet.Invocation{
		Toy:     chi.URLParam(r, "name"),
		Command: chi.URLParam(r, "command"),
		Args:    req.Args,
		Named:   req.Named,
		Timeout: timeout,
	}

	started := time.Now()
	result, err := s.fleet.Invoke(r.Context(), inv)
	err = asTimeout(err, timeout)
	s.audit.Record(r.Context(), audit.SourceAPI, operatorName(r.Context()), inv.Toy, inv.Command, inv.Arguments(), started, err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"toy":         inv.Toy,
		"command":     inv.Command,
		"result":      result,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}

// handleRaw sends a hand-built frame. It exists for commands no table
// describes yet.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		writeBadRequest(w, "payload must be hex: "+err.Error())
		return
	}
	timeout, err := requestTimeout(req.TimeoutMS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	creq := correlator.Request{
		DeviceID:       req.DeviceID,
		CommandID:      req.CommandID,
		Payload:        payload,
		ExpectResponse: !req.NoReply,
		Timeout:        timeout,
	}
	if req.Target != nil {
		creq.Target, creq.HasTarget = *req.Target, true
	}

	started := time.Now()
	resp, err := s.fleet.ExecuteRaw(r.Context(), name, creq)
	label := fmt.Sprintf("raw:%02x:%02x", req.DeviceID, req.CommandID)
	s.audit.Record(r.Context(), audit.SourceAPI, operatorName(r.Context()), name, label, req.Payload, started, err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rawResponse{
		Sequence:  resp.Sequence,
		ErrorCode: byte(resp.ErrorCode),
		SourceID:  resp.SourceID,
		Payload:   hex.EncodeToString(resp.Payload),
	})
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(body io.Reader, v any) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func requestTimeout(ms int) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("timeout_ms must not be negative")
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxCommandTimeout {
		return 0, fmt.Errorf("timeout_ms must not exceed %d", maxCommandTimeout.Milliseconds())
	}
	return d, nil
}

// asTimeout reports a caller deadline as a protocol timeout so it is
// classified the same way as one the correlator raised.
func asTimeout(err error, timeout time.Duration) error {
	if err != nil && timeout > 0 && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, packet.ErrTimeout) {
		return fmt.Errorf("%w after %v: %w", packet.ErrTimeout, timeout, err)
	}
	return err
}
