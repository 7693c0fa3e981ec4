package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/odrive", func(r chi.Router) {
			r.Get("/scan", s.handleScan)
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Get("/connection_status", s.handleConnectionStatus)

			r.Post("/command", s.handleCommand)
			r.Post("/property", s.handleGetProperty)
			r.Post("/set_property", s.handleSetProperty)

			r.Post("/save_config", s.handleSaveConfig)
			r.Post("/save_and_reboot", s.handleSaveAndReboot)
			r.Post("/erase_config", s.handleEraseConfig)
			r.Post("/reboot", s.handleReboot)

			r.Get("/events", s.handleListEvents)
		})

		r.Get(s.wsRoute(), s.handleWebSocket)
	})

	return r
}

// wsRoute returns the WebSocket path relative to /api.
func (s *Server) wsRoute() string {
	if p, ok := strings.CutPrefix(s.wsCfg.Path, "/api/"); ok && p != "" {
		return "/" + p
	}
	return "/ws"
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.manager.IsConnected(),
	})
}
