// Package adsadmin is the read-only HTTP/WebSocket observability
// surface over a router.Router. It never accepts Read/Write/Notify
// commands itself — only inspection of routes, connections,
// notifications, and metrics the core already maintains — so it does
// not reintroduce the ADS server role spec.md excludes (§1 Non-goals).
package adsadmin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/adscore/adsrouter/adsconfig"
	"github.com/adscore/adsrouter/router"
)

// Server is the admin HTTP surface: a thin chi router over Handler plus
// a notificationHub feeding /ws/notifications.
type Server struct {
	cfg     *adsconfig.Config
	handler *Handler
	hub     *notificationHub
	mux     *chi.Mux
	http    *http.Server
}

// NewServer builds the admin surface for rt, configured by cfg.Server.
func NewServer(rt *router.Router, cfg *adsconfig.Config) *Server {
	s := &Server{
		cfg:     cfg,
		handler: newHandler(rt),
		hub:     newNotificationHub(rt),
	}
	s.setupRouter()
	s.http = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	if s.cfg.Server.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORS.AllowedOrigins,
			AllowedMethods:   s.cfg.Server.CORS.AllowedMethods,
			AllowedHeaders:   s.cfg.Server.CORS.AllowedHeaders,
			AllowCredentials: s.cfg.Server.CORS.AllowCredentials,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handler.HandleHealth)
	r.Get("/routes", s.handler.HandleRoutes)
	r.Get("/connections", s.handler.HandleConnections)
	r.Get("/notifications", s.handler.HandleNotifications)
	r.Get("/metrics", s.handler.HandleMetrics)
	r.Get("/ws/notifications", s.hub.HandleWebSocket)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"name":      "adsrouter admin surface",
			"websocket": "/ws/notifications",
		})
	})

	s.mux = r
}

// Start blocks serving HTTP until Shutdown is called or ListenAndServe
// fails.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adsadmin: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the notification hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// Mux exposes the chi router for tests.
func (s *Server) Mux() *chi.Mux { return s.mux }
