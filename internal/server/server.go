package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/roginn/towd-you-so/internal/api/v1"
	"github.com/roginn/towd-you-so/internal/api/ws"
	"github.com/roginn/towd-you-so/internal/config"
	"github.com/roginn/towd-you-so/internal/server/middleware"
)

// Server is the development backend: the session API, uploads and the
// per-session push channel.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      v1.DataStore
	wsHub      *ws.Hub
}

// New creates a Server with all routes wired. ctx bounds background work of
// the middleware stack.
func New(ctx context.Context, cfg *config.Config, store v1.DataStore, pubsub ws.Subscriber, messages v1.MessageHandler) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Mock.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)

	hub := ws.NewHub(pubsub, store.Sessions(), messages, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(cfg.Mock.CORSOrigins),
	})
	uploads := v1.NewUploads(store.Files(), cfg.API.MaxUploadBytes)

	s := &Server{
		router: router,
		store:  store,
		wsHub:  hub,
		httpServer: &http.Server{
			Addr:         cfg.Mock.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Mock.ReadTimeout,
			WriteTimeout: cfg.Mock.WriteTimeout,
		},
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.API.RateLimit, cfg.API.RateBurst))

		r.Post("/upload", uploads.ServeUpload)

		r.Group(func(r chi.Router) {
			apiConfig := huma.DefaultConfig("Tow'd You So API", "1.0.0")
			apiConfig.Servers = []*huma.Server{
				{URL: "/api"},
			}
			api := humachi.New(r, apiConfig)
			registerAPIRoutes(api, store)
		})
	})

	router.Get("/uploads/{fileID}", uploads.ServeFile)

	router.Route("/ws", func(r chi.Router) {
		registerWSRoutes(r, hub)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	log.Debug().Strs("cors_origins", cfg.Mock.CORSOrigins).Msg("routes registered")

	return s
}

// Handler returns the root handler, for embedding in test servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
