package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/hybridrec/internal/api"
	"github.com/kalambet/hybridrec/internal/config"
	"github.com/kalambet/hybridrec/internal/ingest"
	"github.com/kalambet/hybridrec/internal/lineage"
)

const workerPollInterval = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hybridrec.pid")
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

func serverAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "hybridrec version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + serverAddr(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("hybridrec is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", serverAddr(cfg))
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Jobs:        a.store,
		Recommender: a.retrieval,
		Runs:        a.lineage,
		Telemetry:   a.tel,
		Token:       cfg.Server.Token,
		Metrics:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}

	ln, err := net.Listen("tcp", serverAddr(cfg))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", serverAddr(cfg), err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := ingest.NewWorker(a.store, a.pipeline, workerPollInterval)
	go worker.Run(ctx)

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "hybridrec listening on %s\n", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("hybridrec is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop hybridrec (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to hybridrec (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get("http://" + serverAddr(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", serverAddr(cfg))
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Embedding.Backend == config.EmbeddingOllama {
		if r, err := client.Get(strings.TrimRight(cfg.Embedding.BaseURL, "/") + "/api/version"); err != nil {
			printStatus("Ollama", "not running")
		} else {
			r.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Embedding.BaseURL)
		}
	}
	printStatus("Embedding", "%s (%s, dim %d)", cfg.Embedding.Model, cfg.Embedding.Backend, cfg.Embedding.Dim)
	printStatus("Vector index", "%s", cfg.Vector.Backend)
	printStatus("Cache", "%s (ttl %s)", cfg.Cache.Backend, cfg.Cache.TTL())
	printStatus("MongoDB", "%s/%s", cfg.Mongo.URI, cfg.Mongo.Database)
	printStatus("Neo4j", "%s/%s", cfg.Neo4j.URI, cfg.Neo4j.Database)

	if running {
		c := &apiClient{baseURL: "http://" + serverAddr(cfg), token: cfg.Server.Token, httpClient: client}
		const limit = 100
		r, err := c.get(context.Background(), fmt.Sprintf("/runs?limit=%d", limit))
		if err == nil {
			var report lineage.Report
			if decodeJSON(r, &report) == nil {
				printStatus("Pipeline runs", "%s", countLabel(len(report.Runs), limit))
				printStatus("Run anomalies", "%d", len(report.Anomalies))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
