package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/panel"
	"github.com/nerrad567/spherolink/internal/process"
	"github.com/nerrad567/spherolink/internal/toy"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	if s.cfg.Panel.Enabled {
		r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.Panel.Dir)))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/panel/", http.StatusFound)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Browsers cannot set headers on a WebSocket handshake, so /ws
		// authenticates with a ticket from /auth/ws-ticket instead.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Put("/auth/password", s.handleChangeOwnPassword)

			r.Route("/toys", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermToyRead)).Get("/", s.handleListToys)
				r.With(s.requirePermission(auth.PermToyManage)).Post("/", s.handleCreateToy)

				r.Route("/{name}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermToyRead))
						r.Get("/", s.handleGetToy)
						r.Get("/stats", s.handleToyStats)
						r.Get("/commands", s.handleListCommands)
						r.Get("/notifications", s.handleListNotifications)
					})
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermToyOperate))
						r.Post("/connect", s.handleConnectToy)
						r.Post("/disconnect", s.handleDisconnectToy)
						r.Post("/commands/{command}", s.handleExecute)
						r.Post("/raw", s.handleRaw)
					})
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermToyManage))
						r.Patch("/", s.handleUpdateToy)
						r.Delete("/", s.handleDeleteToy)
					})
				})
			})

			if s.routines != nil && s.engine != nil {
				r.Route("/routines", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermToyRead)).Get("/", s.handleListRoutines)
					r.With(s.requirePermission(auth.PermToyManage)).Post("/", s.handleCreateRoutine)

					r.Route("/{name}", func(r chi.Router) {
						r.With(s.requirePermission(auth.PermToyRead)).Get("/", s.handleGetRoutine)
						r.With(s.requirePermission(auth.PermToyRead)).Get("/runs", s.handleListRoutineRuns)
						r.With(s.requirePermission(auth.PermToyOperate)).Post("/run", s.handleRunRoutine)
						r.With(s.requirePermission(auth.PermToyManage)).Put("/", s.handleUpdateRoutine)
						r.With(s.requirePermission(auth.PermToyManage)).Delete("/", s.handleDeleteRoutine)
					})
				})
			}

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			r.Route("/operators", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermOperatorManage))
				r.Get("/", s.handleListOperators)
				r.Post("/", s.handleCreateOperator)
				r.Put("/{id}/role", s.handleSetOperatorRole)
				r.Put("/{id}/password", s.handleResetOperatorPassword)
				r.Delete("/{id}", s.handleDeleteOperator)
			})
		})
	})

	return r
}

// handleHealth reports liveness plus a fleet summary. No auth required.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	toys := s.fleet.List()
	connected := 0
	for _, t := range toys {
		if t.State() == toy.StateConnected {
			connected++
		}
	}
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"toys":           len(toys),
		"connected":      connected,
		"ws_clients":     s.hub.ClientCount(),
	}
	if s.adapter != nil {
		st := s.adapter.Stats()
		resp["adapter_process"] = st
		if st.Status != process.StatusRunning {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
