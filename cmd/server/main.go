// Command server runs the user registry web app.
//
// Settings come from the environment, optionally seeded from a .env file;
// see internal/config for the full list. With no settings at all it listens
// on :7000 and keeps its data in data/users.db.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/user-registry/internal/config"
	"github.com/sakif/user-registry/internal/server"
)

func main() {
	// .env is read before the level is known, so report it afterwards.
	envFile, envErr := config.LoadDotenv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	switch {
	case envErr != nil:
		logger.Warn("ignoring .env file", slog.String("error", envErr.Error()))
	case envFile != "":
		logger.Info("loaded environment file", slog.String("path", envFile))
	}

	if cfg.CookieSecretGenerated {
		logger.Warn("COOKIE_SECRET not set; using a random secret, logins will not survive a restart")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
