package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comigor/shapeschat/internal/config"
	"github.com/comigor/shapeschat/internal/credential"
	"github.com/comigor/shapeschat/internal/llm"
	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/persona"
	"github.com/comigor/shapeschat/internal/session"
	"github.com/comigor/shapeschat/internal/store"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "shapeschat",
	Short:         "Chat with Shapes personas",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(serveCmd, mcpCmd, personasCmd, keyCmd)
}

// app is the wired set of collaborators every command works against.
type app struct {
	cfg         *config.Config
	store       store.Store
	personas    *persona.Registry
	credentials *credential.Store
	sessions    *session.Hub
}

func loadApp(ctx context.Context) (*app, error) {
	if err := godotenv.Load(); err != nil {
		logger.L.Debug(".env file not found, using environment variables")
	}

	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger.SetLevel(level)

	st := store.OpenOrMemory(cfg.Storage.Path)
	personas := persona.NewRegistry(ctx, st, persona.Options{
		Namespace:    cfg.Shapes.ModelNamespace,
		VanityDomain: cfg.Shapes.VanityDomain,
	})
	creds := credential.NewStore(ctx, st, cfg.Shapes.StrictCredentials, cfg.Shapes.APIKey)
	sessions := session.NewHub(session.Deps{
		Personas:    personas,
		Completer:   llm.NewCompleter(cfg.Shapes, creds),
		Credentials: creds,
	}, session.WithMaxSessions(cfg.Server.MaxSessions))

	return &app{cfg: cfg, store: st, personas: personas, credentials: creds, sessions: sessions}, nil
}

func (a *app) avatarFetcher() *persona.AvatarFetcher {
	return persona.NewAvatarFetcher(a.cfg.Shapes.ProfileURL, &http.Client{Timeout: a.cfg.Shapes.Timeout})
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.L.Warn("failed to close store", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.L.Error("command failed", "error", err)
		os.Exit(1)
	}
}
