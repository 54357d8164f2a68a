package main

import (
	"context"
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

	"github.com/kalambet/resummate/internal/api"
	"github.com/kalambet/resummate/internal/config"
	"github.com/kalambet/resummate/internal/extract"
	"github.com/kalambet/resummate/internal/gateway"
	"github.com/kalambet/resummate/internal/prompt"
	"github.com/kalambet/resummate/internal/storage"
	"github.com/kalambet/resummate/internal/tools"
	"github.com/kalambet/resummate/internal/turn"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the resummate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running resummate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show resummate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "resummate.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "resummate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("resummate is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("resummate is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the turn orchestrator and its collaborators.
	model := gateway.NewClientWithBaseURL(cfg.Gateway.APIKey, cfg.Gateway.BaseURL)
	registry := tools.NewRegistry()
	composer := prompt.New(cfg.Turn.MaxContextTokens)
	orch := turn.New(store, model, registry, composer, turn.Options{
		Model:           cfg.Gateway.Model,
		Temperature:     cfg.Gateway.Temperature,
		TemperatureSet:  cfg.Gateway.TemperatureSet,
		MaxOutputTokens: cfg.Gateway.MaxOutputTokens,
		MaxToolRounds:   cfg.Turn.MaxToolRounds,
	})

	handler := api.NewHandler(api.Deps{
		Store:   store,
		Turns:   orch,
		Fetcher: extract.NewFetcher(),
		Token:   cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over SSE, so external agents can call the analysis tools.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Executor: registry})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "resummate listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
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
		printError("resummate is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop resummate (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to resummate (PID %d)", pid)
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

	printStatus("Gateway", "%s", cfg.Gateway.BaseURL)
	printStatus("Model", "%s", cfg.Gateway.Model)
	printStatus("MCP port", "%d", cfg.Server.MCPPort)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
