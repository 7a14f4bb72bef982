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

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dishdex/internal/analysis"
	"github.com/kalambet/dishdex/internal/api"
	"github.com/kalambet/dishdex/internal/assets"
	"github.com/kalambet/dishdex/internal/catalog"
	"github.com/kalambet/dishdex/internal/config"
	"github.com/kalambet/dishdex/internal/enrich"
	"github.com/kalambet/dishdex/internal/profile"
	"github.com/kalambet/dishdex/internal/retry"
	"github.com/kalambet/dishdex/internal/search"
	"github.com/kalambet/dishdex/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dishdex server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dishdex server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dishdex system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dishdex.pid")
}

func lockFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dishdex.lock")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
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

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// acquireDataDirLock takes the single-instance lock on dataDir.
func acquireDataDirLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	lock := flock.New(lockFilePath(dataDir))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data dir: %w", err)
	}
	if !ok {
		if pid, pidErr := readPIDFile(pidFilePath(dataDir)); pidErr == nil {
			return nil, fmt.Errorf("server already running (PID %d)", pid)
		}
		return nil, fmt.Errorf("data dir %s is in use by another dishdex process", dataDir)
	}
	return lock, nil
}

// app holds the wired components of a running server.
type app struct {
	store     *storage.Store
	catalog   *catalog.Service
	pool      *enrich.Pool
	scheduler *profile.Scheduler
}

func buildApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	ix, err := search.NewDishIndexer(store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	images, err := assets.NewStore(filepath.Join(cfg.Storage.DataDir, "images"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening image store: %w", err)
	}

	client := analysis.NewClient(analysis.ClientConfig{
		APIKey:      cfg.Analysis.APIKey,
		BaseURL:     cfg.Analysis.BaseURL,
		Model:       cfg.Analysis.Model,
		MaxTokens:   cfg.Analysis.MaxTokens,
		Temperature: cfg.Analysis.Temperature,
		Timeout:     cfg.Analysis.Timeout,
	})
	policy := func(name string) retry.Policy {
		return retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Name:        name,
		}
	}
	analyzer := analysis.NewAnalyzer(client,
		analysis.WithPolicy(policy("dish analysis")),
		analysis.WithLocale(cfg.Locale),
		analysis.WithPhilosophicalMode(cfg.Analysis.Philosophical),
	)
	writer := analysis.NewProfileWriter(client,
		analysis.WithPolicy(policy("eating profile")),
		analysis.WithLocale(cfg.Locale),
	)

	enricher := enrich.NewEnricher(store, images, analyzer, ix, cfg.Locale)
	worker := enrich.NewWorker(store, enricher, cfg.Enrichment.PollInterval)
	agg := profile.NewAggregator(store, writer, cfg.Locale, cfg.Profiles.BatchSize)
	worker.Handle(profile.JobRefreshProfiles, agg.HandleJob)

	sched, err := profile.NewScheduler(cfg.Profiles.Schedule, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		store:     store,
		catalog:   catalog.NewService(store, ix, images, cfg.Locale),
		pool:      enrich.NewPool(worker, cfg.Enrichment.Workers, store, cfg.Enrichment.StaleAfter),
		scheduler: sched,
	}, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "dishdex version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	lock, err := acquireDataDirLock(cfg.Storage.DataDir)
	if err != nil {
		printWarning("%v", err)
		return err
	}
	defer lock.Unlock()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, HTTP API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(api.AppDeps{Catalog: a.catalog, Token: cfg.Server.APIToken}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pool.Run(gctx) })

	a.scheduler.Start()
	defer a.scheduler.Stop()

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dishdex listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Catalog: a.catalog, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Show()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("dishdex is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dishdex (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dishdex (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Show()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	resp, err := client.get(ctx, "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", client.baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Analysis.Model)
	printStatus("Locale", "%s", cfg.Locale)
	printStatus("Profile schedule", "%s", cfg.Profiles.Schedule)

	if running {
		statsResp, err := client.get(ctx, "/stats")
		if err == nil {
			var st api.StatsView
			if decodeJSON(statsResp, &st) == nil {
				printStatus("Dishes", "%d (%d indexed)", st.Dishes, st.IndexedRows)
				printStatus("Jobs", "%s", jobSummary(st.Jobs))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func jobSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	var parts []string
	for _, status := range []string{storage.JobPending, storage.JobRunning, storage.JobCompleted, storage.JobFailed} {
		if n, ok := counts[status]; ok {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	return strings.Join(parts, ", ")
}
