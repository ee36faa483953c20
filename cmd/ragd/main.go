// Ragd is the data-access daemon for a retrieval-augmented chatbot backend.
//
// It serves the vector collection API backed by an embedded persistent
// index, with per-user API keys encrypted at rest in SQLite.
//
// Usage:
//
//	# Start the server with defaults
//	ragd serve
//
//	# Configure via environment
//	EMBEDDING_PROVIDER=openai OPENAI_API_KEY=sk-... ragd serve
//
//	# Generate a fresh encryption key for ENCRYPTION_KEY
//	ragd keygen
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "ragd",
		Short: "RAG chatbot data-access daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a fresh credential encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragd %s (%s)\n", version, gitCommit)
		},
	}

	root.AddCommand(serve, keygen, ver)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runServe wires configuration, logging and the three core services, then
// runs the HTTP server until SIGINT/SIGTERM.
func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger) //nolint:errcheck

	factory := embeddings.NewFactory(embeddings.FactoryDefaults{
		Provider:         cfg.Embedding.Provider,
		Model:            cfg.Embedding.Model,
		OpenAIAPIKey:     cfg.OpenAI.APIKey,
		HuggingFaceToken: cfg.HuggingFace.APIToken,
	}, logger)

	provider, err := factory.Create("", "", "")
	if err != nil {
		return fmt.Errorf("creating default embedding provider: %w", err)
	}
	defer provider.Close() //nolint:errcheck

	collections, err := vectorstore.NewService(vectorstore.Config{
		PersistPath: cfg.ChromaDB.PersistPath,
		Compress:    cfg.ChromaDB.Compress,
	}, provider, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer collections.Close() //nolint:errcheck

	cipher, err := secrets.NewCipher(cfg.Encryption.Key, logger)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	credentials, err := secrets.NewStore(cfg.Database.Path, cipher, logger)
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	defer credentials.Close() //nolint:errcheck

	server, err := ragdhttp.NewServer(collections, credentials, logger, &ragdhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
