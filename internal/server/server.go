// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
//	config.Config → repository (sqlite or postgres)
//	             → PasswordService, TokenService → UserService → UserHandler
//
// Every dependency is wired in New/setupRoutes and nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/user-registry/internal/auth"
	"github.com/sakif/user-registry/internal/config"
	"github.com/sakif/user-registry/internal/handler"
	"github.com/sakif/user-registry/internal/middleware"
	"github.com/sakif/user-registry/internal/repository"
	"github.com/sakif/user-registry/internal/repository/postgres"
	sqliteRepo "github.com/sakif/user-registry/internal/repository/sqlite"
	"github.com/sakif/user-registry/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	connectTimeout  = 10 * time.Second
)

// Server owns the router and the store. The store is closed when Start
// returns.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  repository.UserRepository
}

// New opens the store named by cfg (postgres when DATABASE_URL is set,
// sqlite otherwise) and builds a Server on it.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := NewWithStore(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds a Server on an already-open store. The Server takes
// ownership of store.
func NewWithStore(cfg config.Config, store repository.UserRepository, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// OpenStore connects to the configured database and creates its tables.
func OpenStore(cfg config.Config, logger *slog.Logger) (repository.UserRepository, error) {
	if cfg.UsesPostgres() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		logger.Info("using postgres store")
		return db, nil
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	logger.Info("using sqlite store", slog.String("path", cfg.DBPath))
	return db, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes mounts middleware and routes.
//
//	GET  /                    login page
//	POST /                    log in
//	GET  /register/           registration page
//	POST /user_registeration/ register (multipart)
//	GET  /user/{user_id}      one user (JSON)
//	GET  /home/               users with a profile
//	POST /logout/             clear the login cookie
//	GET  /static/*            stylesheet
//
// Middleware order: RequestID, RealIP, Recoverer, Logger, then OptionalAuth
// so every handler can see who is logged in.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.CookieSecret, s.config.CookieTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	s.router.Use(auth.OptionalAuth(tokens))

	pages, err := handler.NewRenderer(s.config.TemplateDir)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	passwords := auth.NewPasswordServiceWithCost(s.config.BcryptCost)
	userService := service.NewUserService(s.store, passwords, s.logger)
	userHandler := handler.NewUserHandler(userService, tokens, pages, handler.Options{
		CookieSecure:   s.config.CookieSecure,
		MaxUploadBytes: s.config.MaxUploadBytes,
	}, s.logger)

	fileServer := http.FileServer(http.Dir(s.config.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	s.router.Get("/", userHandler.HandleLoginPage)
	s.router.Post("/", userHandler.HandleLogin)
	s.router.Get("/register/", userHandler.HandleRegisterPage)
	s.router.Get("/home/", userHandler.HandleHome)
	s.router.Post("/logout/", userHandler.HandleLogout)

	// The JSON and form endpoints may be called from another origin when
	// CORS_ALLOWED_ORIGINS is set.
	s.router.Group(func(r chi.Router) {
		if len(s.config.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   s.config.CORSAllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		r.Post("/user_registeration/", userHandler.HandleRegister)
		r.Get("/user/{user_id}", userHandler.HandleGetUser)
	})

	return nil
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests and
// closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
