// journalmind is a retrieval-grounded AI chat backend for personal journals.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spetr/journalmind/internal/api"
	"github.com/spetr/journalmind/internal/chat"
	"github.com/spetr/journalmind/internal/config"
	"github.com/spetr/journalmind/internal/index"
	"github.com/spetr/journalmind/internal/provider/openai"
	"github.com/spetr/journalmind/internal/search"
	"github.com/spetr/journalmind/internal/store"
	"github.com/spetr/journalmind/pkg/types"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	// Local overrides for development; missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "journalmind",
	Short: "AI chat backend for personal journals",
	Long: `journalmind indexes journal entries with vector embeddings and answers
questions about them through a streaming chat API.

It supports:
- Any OpenAI-compatible embedding and chat provider
- Incremental index builds (only changed entries are re-embedded)
- Server-sent event token streaming`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("journalmind %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the vector index for an owner",
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		full, _ := cmd.Flags().GetBool("full")
		runBuild(owner, full)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index coverage for an owner",
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		runStats(owner)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: journalmind.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	buildCmd.Flags().StringP("owner", "o", "", "owner to build the index for (required)")
	buildCmd.Flags().Bool("full", false, "re-embed every entry instead of only changed ones")
	_ = buildCmd.MarkFlagRequired("owner")

	statsCmd.Flags().StringP("owner", "o", "", "owner to report on (required)")
	_ = statsCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statsCmd)
}

// stack is the wired application: one store, one provider client, and the
// services on top of them.
type stack struct {
	cfg      *config.Config
	store    *store.Store
	provider *openai.Client
	manager  *index.Manager
	searcher *search.Searcher
	chatter  *chat.Service
}

func openStack() (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := openai.New(cfg.Provider.Timeout)

	manager := index.New(index.Config{
		Entries:  st,
		Vectors:  st,
		Settings: st,
		Embedder: client,
		Workers:  cfg.Build.Workers,
	})

	searcher := search.New(search.Config{
		Vectors:  st,
		Entries:  st,
		Settings: st,
		Embedder: client,
	})

	chatter := chat.New(chat.Config{
		Retriever: searcher,
		Messages:  st,
		Settings:  st,
		Streamer:  client,
	})

	return &stack{
		cfg:      cfg,
		store:    st,
		provider: client,
		manager:  manager,
		searcher: searcher,
		chatter:  chatter,
	}, nil
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "journalmind.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	return cfg, nil
}

func runServe() {
	app, err := openStack()
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	server := api.New(api.Config{
		Builder:      app.manager,
		Chatter:      app.chatter,
		Models:       app.provider,
		Records:      app.store,
		BuildTimeout: app.cfg.Build.Timeout,
	})

	httpServer := &http.Server{
		Addr:    app.cfg.Server.Addr,
		Handler: server.Handler(),
		// No WriteTimeout: chat responses stream for as long as the
		// provider keeps sending tokens.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", app.cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func runBuild(owner string, full bool) {
	app, err := openStack()
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.Build.Timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		slog.Info("interrupting build", "signal", sig)
		cancel()
	}()

	var result *types.BuildResult
	if full {
		result, err = app.manager.BuildAll(ctx, owner)
	} else {
		result, err = app.manager.BuildIncremental(ctx, owner)
	}
	if err != nil && result == nil {
		slog.Error("build failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		// Partial result from an interrupted build.
		fmt.Fprintf(os.Stderr, "build interrupted: %v\n", err)
		os.Exit(1)
	}
}

func runStats(owner string) {
	app, err := openStack()
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := app.manager.GetStats(ctx, owner)
	if err != nil {
		slog.Error("failed to load stats", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
