// Package cli provides the command-line interface for docchat.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/config"
	"github.com/raphaelgruber/docchat/internal/db"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	userFlag    string
	storeFlag   string
	backendFlag string

	cfg       config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	closeLog  func() error

	// Lazily opened by the commands that need them
	convStore  store.Store
	closeStore func(context.Context) error
	apiClient  *backend.Client
)

var errNoUser = errors.New("no user: pass --user or set DOCCHAT_USER")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your documents",
	Long: `docchat is a document-aware chat client. Conversations are stored per user
and stay in sync across every client signed in as that user.

Attach a PDF, text or Word file and the answering backend grounds its replies
on the document; without one it answers as a general assistant.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if userFlag != "" {
			cfg.UserID = userFlag
		}
		if storeFlag != "" {
			cfg.Store = storeFlag
		}
		if backendFlag != "" {
			cfg.BackendURL = backendFlag
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The REPL owns the terminal, so it only logs to the file.
		if cmd.Name() == "chat" {
			logger, closeLog = fileLogger(cfg)
		} else {
			logger, closeLog = config.SetupLogger("docchat", cfg.LogFile, cfg.LogLevel)
		}
		collector = metrics.NewCollector()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeStore != nil {
			if err := closeStore(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

func fileLogger(c config.Config) (*slog.Logger, func() error) {
	if c.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() error { return nil }
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() error { return nil }
	}
	return config.SetupLoggerWithWriters("docchat", io.Discard, f, c.LogLevel), f.Close
}

// getStore opens the configured conversation store on first use.
func getStore(ctx context.Context) (store.Store, error) {
	if convStore != nil {
		return convStore, nil
	}

	switch cfg.Store {
	case config.StoreMemory:
		convStore = store.NewMemory(logger)
		return convStore, nil
	case config.StoreSurreal:
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}

	client, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, collector)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	convStore, closeStore = client, client.Close
	return convStore, nil
}

// getBackend returns the answering backend client.
func getBackend() *backend.Client {
	if apiClient == nil {
		apiClient = backend.New(cfg.BackendURL, collector)
	}
	return apiClient
}

// currentUser returns the identity commands act as.
func currentUser() (string, error) {
	if cfg.UserID == "" {
		return "", errNoUser
	}
	return cfg.UserID, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id to act as (default $DOCCHAT_USER)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "conversation store: surreal or memory (default $DOCCHAT_STORE)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "answering backend URL (default $DOCCHAT_BACKEND_URL)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docchat %s\n", Version)
	},
}
