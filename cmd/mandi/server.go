package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/thillai/mandi/internal/api"
	"github.com/thillai/mandi/internal/config"
	"github.com/thillai/mandi/internal/embed"
	"github.com/thillai/mandi/internal/indexer"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/seed"
	"github.com/thillai/mandi/internal/storage"
	"github.com/thillai/mandi/internal/vector"
)

const embedRequestsPerSecond = 10

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mandi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		seedDemo, _ := cmd.Flags().GetBool("seed")
		return runServer(seedDemo)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mandi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mandi system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("seed", false, "insert demo data on startup")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mandi.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(seedDemo bool) error {
	fmt.Fprintf(os.Stderr, "mandi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("MANDI_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Without a configured token, generate one for this run so the API is
	// never left open.
	token := cfg.Server.Token
	if token == "" {
		token, err = randomToken()
		if err != nil {
			return fmt.Errorf("generating API token: %w", err)
		}
		fmt.Fprintf(os.Stderr, "generated ephemeral API token: %s\n", token)
		fmt.Fprintln(os.Stderr, "set MANDI_API_TOKEN to use a stable token")
	}

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mandi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mandi is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding provider. The server starts without Ollama; indexing and
	// semantic search degrade until it comes up.
	ollama := embed.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.Dimensions)
	if !ollama.IsRunning(ctx) {
		printWarning("Ollama not reachable at %s; semantic search unavailable until it starts", cfg.Ollama.BaseURL)
	}
	provider := embed.NewResilient(ollama, embedRequestsPerSecond)

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the index pipeline and searcher.
	index := vector.NewSQLiteIndex(store.DB(), provider)
	chunker := vector.NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	ix := indexer.New(provider, index, chunker)
	searcher := search.New(store, index, cfg.Search.Overfetch)

	if seedDemo {
		seed.Run(store)
	}

	// Start index workers.
	workers := cfg.Index.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		worker := indexer.NewWorker(store, ix, 500*time.Millisecond)
		go worker.Run(ctx)
	}
	slog.Info("index workers started", "count", workers)

	// Build HTTP handler. h2c lets local clients multiplex long-lived
	// search streams without TLS.
	handler := api.NewHandler(api.Deps{
		Store:    store,
		Searcher: searcher,
		Token:    token,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	// Start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Searcher: searcher,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mandi listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mandi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mandi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mandi (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s (%d dims)", cfg.Ollama.EmbedModel, cfg.Ollama.Dimensions)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
