package main

import (
	"context"
	"encoding/json"
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
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"google.golang.org/genai"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/api"
	"github.com/agrisense/agrisensed/internal/config"
	"github.com/agrisense/agrisensed/internal/edge"
	"github.com/agrisense/agrisensed/internal/metrics"
	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/provider"
	"github.com/agrisense/agrisensed/internal/rules"
	"github.com/agrisense/agrisensed/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agrisensed daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agrisensed daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, edge cache and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "agrisensed.pid")
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

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "agrisensed version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("agrisensed is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("agrisensed is already running on port %d", cfg.Server.Port)
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

	if n, err := store.RequeueRunningJobs(ctx); err != nil {
		slog.Warn("requeueing interrupted sync items", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted sync items", "count", n)
	}

	collector := metrics.New()

	perm, err := notify.ParsePermission(cfg.Notify.Permission)
	if err != nil {
		return err
	}
	alerter := notify.NewLogAlerter(slog.Default(), perm)
	notes := notify.New(store, alerter, perm)
	if err := notes.Load(ctx); err != nil {
		slog.Warn("loading notifications", "error", err)
	}

	providers, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		printWarning("no AI providers configured; answers come from the built-in rules")
	}
	chain := provider.NewChain(provider.ChainOptions{
		MaxRounds: cfg.Providers.MaxRounds,
		BaseDelay: cfg.Providers.BaseDelay,
		Timeout:   cfg.Providers.Timeout,
		Limiter:   provider.NewLimiter(cfg.Providers.RatePerMinute),
		Observer:  collector.ObserveAttempt,
	}, providers...)
	for _, c := range chain.Candidates() {
		slog.Info("provider candidate", "priority", c.Priority, "id", c.ID)
	}

	var conn advisor.Connectivity = provider.Static(true)
	if cfg.Providers.ProbeURL != "" {
		conn = provider.NewProbe(cfg.Providers.ProbeURL, 15*time.Second)
	}
	adv := advisor.New(chain, rules.New(), conn, notes, collector)

	in, err := buildEdge(cfg.Edge, store, notes, alerter, collector)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Advisor:       adv,
		Notifications: notes,
		Edge:          in,
		Metrics:       collector.Handler(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go runEdgeLifecycle(ctx, in, cfg.Edge.PeriodicInterval)

	syncWorker := edge.NewSyncWorker(in, provider.NewProbe(cfg.Edge.OriginURL, 15*time.Second), 0)
	go syncWorker.Run(ctx)

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Advisor:       adv,
			Notifications: notes,
			Version:       version,
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
		fmt.Fprintf(os.Stderr, "agrisensed listening on %s (origin %s)\n", addr, cfg.Edge.OriginURL)
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

// buildProviders turns providers.chain into concrete candidates. Entries
// whose credentials are missing, or a local Ollama that is not serving the
// model, are skipped with a warning rather than failing startup.
func buildProviders(ctx context.Context, pc config.ProvidersConfig) ([]provider.Provider, error) {
	entries, err := config.ParseChain(pc.Chain)
	if err != nil {
		return nil, err
	}

	var (
		out          []provider.Provider
		geminiClient *genai.Client
		geminiErr    error
	)
	for _, e := range entries {
		switch e.Kind {
		case "gemini":
			if geminiClient == nil && geminiErr == nil {
				geminiClient, geminiErr = provider.NewGeminiClient(ctx, pc.GeminiAPIKey, pc.Timeout)
			}
			if geminiErr != nil {
				slog.Warn("skipping gemini candidates", "error", geminiErr)
				continue
			}
			models := provider.DefaultGeminiModels
			if e.Model != "" {
				models = []string{e.Model}
			}
			for _, m := range models {
				out = append(out, provider.NewGemini(geminiClient, m))
			}

		case "openrouter":
			if pc.OpenRouterAPIKey == "" {
				slog.Warn("skipping openrouter candidate: no API key", "hint", "set AGRISENSE_OPENROUTER_API_KEY")
				continue
			}
			model := pc.OpenRouterModel
			if e.Model != "" {
				model = e.Model
			}
			out = append(out, provider.NewOpenRouter(pc.OpenRouterAPIKey, model, pc.Timeout))

		case "ollama":
			model := pc.OllamaModel
			if e.Model != "" {
				model = e.Model
			}
			o := provider.NewOllama(pc.OllamaBaseURL, model, pc.Timeout)
			if !o.IsRunning(ctx) {
				slog.Warn("skipping ollama candidate: not running", "base_url", pc.OllamaBaseURL)
				continue
			}
			ok, err := o.HasModel(ctx)
			if err != nil || !ok {
				slog.Warn("skipping ollama candidate: model not pulled", "model", model, "error", err)
				continue
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func buildManifest(ec config.EdgeConfig) (edge.Manifest, error) {
	if ec.ManifestFile != "" {
		return edge.LoadManifest(ec.ManifestFile)
	}
	m := edge.DefaultManifest()
	if len(ec.Manifest) > 0 {
		m.Routes = ec.Manifest
	}
	return m, m.Validate()
}

func buildEdge(ec config.EdgeConfig, store *storage.Store, notes *notify.Store, alerter notify.Alerter, collector *metrics.Collector) (*edge.Intermediary, error) {
	manifest, err := buildManifest(ec)
	if err != nil {
		return nil, fmt.Errorf("edge manifest: %w", err)
	}
	return edge.New(edge.Options{
		Origin:             ec.OriginURL,
		Client:             &http.Client{Timeout: 15 * time.Second},
		Cache:              edge.NewSQLCache(store, edge.CacheName),
		Manifest:           manifest,
		InstallConcurrency: ec.InstallConcurrency,
		Jobs:               store,
		KV:                 store,
		Notes:              notes,
		Alerter:            alerter,
		Observer:           collector,
		Logger:             slog.Default().With("component", "edge"),
	})
}

type edgeLifecycle interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	RunPeriodic(ctx context.Context, interval time.Duration)
}

// runEdgeLifecycle warms the cache, takes control, then keeps it fresh. A
// partial install still activates: whatever was cached can be served.
func runEdgeLifecycle(ctx context.Context, in edgeLifecycle, interval time.Duration) {
	if err := in.Install(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("edge install incomplete", "error", err)
	}
	if err := in.Activate(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("edge activate failed", "error", err)
	} else {
		slog.Info("edge intermediary active", "cache", edge.CacheName)
	}
	in.RunPeriodic(ctx, interval)
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
		printError("agrisensed is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop agrisensed (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to agrisensed (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status     string            `json:"status"`
	Edge       *edge.Status      `json:"edge"`
	Permission notify.Permission `json:"notification_permission"`
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
		var health healthResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printEdgeStatus(health)
		}
	}

	printStatus("Origin", "%s", cfg.Edge.OriginURL)
	printStatus("Provider chain", "%s", strings.Join(cfg.Providers.Chain, ", "))
	printStatus("Gemini key", "%s", setLabel(cfg.Providers.GeminiAPIKey))
	printStatus("OpenRouter key", "%s", setLabel(cfg.Providers.OpenRouterAPIKey))

	ollamaResp, err := client.Get(cfg.Providers.OllamaBaseURL + "/api/tags")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Providers.OllamaBaseURL)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printEdgeStatus(h healthResponse) {
	if h.Edge == nil {
		return
	}
	state := "installing"
	switch {
	case h.Edge.Active:
		state = "active"
	case h.Edge.Installed:
		state = "installed"
	}
	printStatus("Edge", "%s (%s, %d cached)", state, h.Edge.CacheName, h.Edge.CachedEntries)
	printStatus("Pending sync", "%d", h.Edge.PendingSync)
	if h.Permission != "" {
		printStatus("Notifications", "%s", h.Permission)
	}
}

func setLabel(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}
