package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kalambet/timeledger/internal/api"
	"github.com/kalambet/timeledger/internal/config"
	"github.com/kalambet/timeledger/internal/daybook"
	"github.com/kalambet/timeledger/internal/generator"
	"github.com/kalambet/timeledger/internal/profile"
	"github.com/kalambet/timeledger/internal/review"
	"github.com/kalambet/timeledger/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the timeledger server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running timeledger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show timeledger status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "timeledger.pid")
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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text logs to stderr, or to a rotated file when
// log.file is set.
func newLogger(cfg config.LogConfig) (*slog.Logger, func() error) {
	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out, closer = lj, lj.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})), closer
}

// buildCompleter exposes the generator over HTTP when it is a model client.
func buildCompleter(gen generator.Generator) api.Completer {
	if c, ok := gen.(*generator.Client); ok {
		return c
	}
	return nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "timeledger version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser := newLogger(cfg.Log)
	defer logCloser()
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("timeledger is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("timeledger is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir, storage.WithPollInterval(cfg.PollInterval()))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	profiles := profile.NewManager(store)
	if err := profiles.SetDefaultTimezone(cfg.User.Timezone); err != nil {
		return fmt.Errorf("user.timezone: %w", err)
	}
	// Local mode has no sign-in; starting the server counts as one and
	// keeps whatever identity the profile already carries.
	current, err := profiles.GetProfile(ctx, cfg.User.ID)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	if _, err := profiles.Touch(ctx, cfg.User.ID, profile.Login{
		Email:       current.Email,
		DisplayName: current.DisplayName,
		PhotoURL:    current.PhotoURL,
	}); err != nil {
		return fmt.Errorf("initializing profile: %w", err)
	}

	gen, err := generator.New(cfg.GeneratorSettings())
	if err != nil {
		return fmt.Errorf("building generator: %w", err)
	}
	switch {
	case cfg.Generator.Provider == generator.ProviderOllama:
		if err := generator.EnsureOllama(ctx, cfg.Generator.BaseURL, cfg.Generator.Model, os.Stderr); err != nil {
			printWarning("feedback unavailable: %v", err)
		}
	case cfg.Generator.APIKey == "" && cfg.Generator.Provider != generator.ProviderRemote:
		printWarning("no generator key configured; feedback will fail until one is stored in %s", config.SecretHint())
	}

	svc := daybook.New(store, profiles, gen, daybook.Options{
		Limits: review.Limits{
			MaxRetainedRuns: cfg.Feedback.MaxRetainedRuns,
			MaxRunsPerDay:   cfg.Feedback.MaxRunsPerDay,
		},
		DigestLimit: cfg.Feedback.DigestLimit,
		Logger:      logger,
	})

	handler := api.NewAppHandler(api.AppDeps{
		Service:   svc,
		UID:       cfg.User.ID,
		Token:     apiToken,
		Completer: buildCompleter(gen),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Service: svc,
			UID:     cfg.User.ID,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		printStep("timeledger listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		printError("timeledger is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop timeledger (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to timeledger (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Generator", "%s (%s)", cfg.Generator.Provider, cfg.Generator.Model)
	if cfg.Generator.APIKey == "" {
		printStatus("Generator key", "unset")
	} else {
		printStatus("Generator key", "set")
	}
	printStatus("Feedback", "%d runs per day, %d kept", cfg.Feedback.MaxRunsPerDay, cfg.Feedback.MaxRetainedRuns)

	if running {
		if token, err := config.GetAPIToken(config.NewKeychain()); err == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			var b daybook.Bundle
			if err := c.call(ctx, http.MethodGet, "/today", nil, &b); err == nil {
				printStatus("Today", "%s, %s tracked, %d feedback runs left", b.Date, formatMinutes(b.Computed.TotalMinutes), b.Remaining)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
