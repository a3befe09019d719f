package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krshsl/mockmate/cache"
	ws "github.com/krshsl/mockmate/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	shutdownTimeout    = 10 * time.Second
	cacheSweepSchedule = "@every 5m"
)

// Server holds all server dependencies
type Server struct {
	config             *Config
	db                 *gorm.DB
	pool               *pgxpool.Pool
	cache              cache.Cache
	authService        *AuthService
	authEndpoints      *AuthEndpoints
	interviewEndpoints *InterviewEndpoints
	adminEndpoints     *AdminEndpoints
	websocketHandler   *WebSocketHandler
	wsHub              *ws.Hub
	timeoutService     *SessionTimeoutService
	reports            *ReportGenerator
}

// ServerDeps is everything NewServer wires into the router
type ServerDeps struct {
	Config             *Config
	DB                 *gorm.DB
	Pool               *pgxpool.Pool
	Cache              cache.Cache
	AuthService        *AuthService
	InterviewEndpoints *InterviewEndpoints
	AdminEndpoints     *AdminEndpoints
	WebSocketHandler   *WebSocketHandler
	Hub                *ws.Hub
	TimeoutService     *SessionTimeoutService
	Reports            *ReportGenerator
}

// NewServer creates a new server instance
func NewServer(deps ServerDeps) *Server {
	return &Server{
		config:             deps.Config,
		db:                 deps.DB,
		pool:               deps.Pool,
		cache:              deps.Cache,
		authService:        deps.AuthService,
		authEndpoints:      NewAuthEndpoints(deps.AuthService),
		interviewEndpoints: deps.InterviewEndpoints,
		adminEndpoints:     deps.AdminEndpoints,
		websocketHandler:   deps.WebSocketHandler,
		wsHub:              deps.Hub,
		timeoutService:     deps.TimeoutService,
		reports:            deps.Reports,
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(s.config.CORS.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		s.authEndpoints.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			s.authEndpoints.RegisterProtectedRoutes(r)
			s.interviewEndpoints.RegisterRoutes(r)
			if s.websocketHandler != nil {
				r.Get("/ws", s.websocketHandler.ServeHTTP)
			}

			r.Group(func(r chi.Router) {
				r.Use(s.authService.RequireAdmin)
				s.adminEndpoints.RegisterRoutes(r)
			})
		})
	})

	return r
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.wsHub != nil {
		go s.wsHub.Run()
	}
	if s.timeoutService != nil {
		if fb, ok := s.cache.(*cache.Fallback); ok {
			err := s.timeoutService.Schedule(cacheSweepSchedule, "cache sweep", func() {
				if n := fb.Sweep(); n > 0 {
					slog.Debug("Expired cache entries swept", "removed", n)
				}
			})
			if err != nil {
				return err
			}
		}
		if err := s.timeoutService.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("Shutting down server...", "signal", sig.String())
	case err := <-errCh:
		slog.Error("Server error", "error", err)
		s.stopBackground()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	s.stopBackground()

	slog.Info("Server exited")
	return nil
}

// stopBackground halts the sweeper, drains report generation and closes sockets
func (s *Server) stopBackground() {
	if s.timeoutService != nil {
		s.timeoutService.Stop()
	}
	if s.reports != nil {
		s.reports.Wait()
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range splitOrigins(allowedOriginsStr) {
		if allowed == "*" || allowed == origin {
			slog.Debug("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := s.databaseStatus(ctx)
	if dbStatus != "up" {
		status = "degraded"
	}

	cacheStatus := "memory"
	if fb, ok := s.cache.(*cache.Fallback); ok {
		cacheStatus = fb.Status(ctx)
	}

	slog.Debug("Health check", "status", status, "database", dbStatus, "cache", cacheStatus)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}

func (s *Server) databaseStatus(ctx context.Context) string {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			slog.Warn("Database ping failed", "error", err)
			return "down"
		}
		return "up"
	}
	if s.db == nil {
		return "not configured"
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return "down"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		slog.Warn("Database ping failed", "error", err)
		return "down"
	}
	return "up"
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	auth := "disabled"
	if s.authService.Enabled() {
		auth = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "API v1",
		"version": "1.0.0",
		"auth":    auth,
	})
}
