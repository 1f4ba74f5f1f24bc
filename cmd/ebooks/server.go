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

	"github.com/spf13/cobra"

	"github.com/robotmk/ebooks/internal/api"
	"github.com/robotmk/ebooks/internal/config"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/pipeline"
	"github.com/robotmk/ebooks/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trigger endpoint and run on an interval (foreground)",
	Long: `Serve POST /run, GET /history, GET /health and GET /metrics.

POST /run and GET /history require the bearer token from server.token.
With --every, the server also runs the bot on that interval; without it,
runs happen only when triggered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetDuration("every")
		host, _ := cmd.Flags().GetString("host")
		return runServer(host, every)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bot and server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Duration("every", 0, "run the bot on this interval, e.g. 1h (0 = only when triggered)")
	serveCmd.Flags().String("host", "127.0.0.1", "address to listen on")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ebooks.pid")
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

func runServer(host string, every time.Duration) error {
	fmt.Fprintf(os.Stderr, "ebooks version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ServeRequirements(); err != nil {
		return err
	}

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ebooks is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ebooks is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if cfg.Bot.Debug {
		printWarning("debug mode: nothing will be published")
	}

	trigger := pipeline.NewTrigger(a.runner)
	deps := api.Deps{Trigger: trigger, Token: cfg.Server.Token}
	if a.store != nil {
		deps.History = a.store
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if every > 0 {
		go pipeline.NewLoop(trigger, every).Run(ctx)
		slog.Info("scheduled runs enabled", "every", every)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ebooks listening on %s\n", addr)
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
		printError("ebooks is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ebooks (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ebooks (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.Token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Account", "%s", valueOr(cfg.Bot.Account, "(unset)"))
	printStatus("Sources", "%s", valueOr(strings.Join(cfg.Bot.SourceAccounts, ", "), "(unset)"))
	if cfg.Bot.Debug {
		printStatus("Mode", "debug (publishes nothing)")
	} else {
		printStatus("Mode", "live")
	}

	model := valueOr(cfg.Generator.Model, generator.DefaultModel(cfg.Generator.Backend))
	if model != "" {
		printStatus("Generator", "%s (%s)", cfg.Generator.Backend, model)
	} else {
		printStatus("Generator", "%s", cfg.Generator.Backend)
	}
	if cfg.Generator.Backend == generator.BackendOllama {
		ollamaResp, err := client.httpClient.Get(cfg.Generator.OllamaBaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Generator.OllamaBaseURL)
		}
	}

	if cfg.Storage.Journal {
		if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
			if runs, err := store.ListRuns(1); err == nil && len(runs) > 0 {
				last := runs[0]
				printStatus("Last run", "%s %s", last.StartedAt.Local().Format(time.DateTime), last.Outcome)
			}
			store.Close()
		}
	} else {
		printStatus("Journal", "disabled")
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if err := cfg.Validate(); err != nil {
		printWarning("configuration is incomplete:\n%v", err)
	}
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
