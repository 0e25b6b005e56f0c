// TLT coordinator — serves the CloudEvents ingress, runs the task queue and
// agent graph, hosts the MCP gateway with its five backends, and optionally
// binds the Discord chat surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/agent/graph"
	"github.com/davidmiura/tlt-sub000/pkg/api"
	"github.com/davidmiura/tlt-sub000/pkg/config"
	"github.com/davidmiura/tlt-sub000/pkg/discord"
	"github.com/davidmiura/tlt-sub000/pkg/gateway"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
	"github.com/davidmiura/tlt-sub000/pkg/queue"
	"github.com/davidmiura/tlt-sub000/pkg/services"
	"github.com/davidmiura/tlt-sub000/pkg/vibecheck"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		if config.IsValidationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	if cfg.Debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("Starting TLT coordinator",
		"http_addr", cfg.Server.Addr(),
		"gateway_addr", cfg.Gateway.Addr(),
		"config_dir", *configDir)

	// 2. Guild data store
	store := guilddata.NewStore(cfg.GuildData.DataDir())
	slog.Info("Guild data store ready", "root", cfg.GuildData.DataDir())

	// 3. LLM client (reasoning + vision)
	llmClient, err := llm.NewFromAPIKey(cfg.LLM.APIKey(), llm.Options{
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model, "vision_model", cfg.LLM.VisionModel)

	// 4. Photo vibe-check pipeline and the five MCP backends
	pipeline := vibecheck.New(store, llmClient, vibecheck.Options{
		MinInterval:     cfg.Photo.MinInterval,
		DownloadTimeout: cfg.Photo.DownloadTimeout,
		MaxReferences:   cfg.Photo.MaxReferences,
		JPEGQuality:     cfg.Photo.JPEGQuality,
	})

	backends := map[string]*services.Backend{
		config.ServiceEventManager:   services.NewEventManager(store),
		config.ServiceRSVP:           services.NewRSVPService(store),
		config.ServiceGuildManager:   services.NewGuildManager(store),
		config.ServicePhotoVibeCheck: services.NewPhotoVibeCheck(store, pipeline, cfg.Photo.DownloadTimeout),
		config.ServiceVibeCanvas:     services.NewVibeCanvas(store),
	}
	backendServers, err := startBackends(cfg.Gateway.Services, backends)
	if err != nil {
		slog.Error("Failed to start backend servers", "error", err)
		os.Exit(1)
	}
	slog.Info("Backend services listening", "count", len(backendServers))

	// 5. MCP gateway
	policyPath := cfg.Gateway.PolicyFile
	if !filepath.IsAbs(policyPath) {
		policyPath = filepath.Join(cfg.GuildData.Root, policyPath)
	}
	policy, err := gateway.NewPolicy(policyPath)
	if err != nil {
		slog.Error("Failed to load gateway policy", "path", policyPath, "error", err)
		os.Exit(1)
	}

	pool := gateway.NewBackendPool(cfg.Gateway.Services, cfg.Gateway.CallTimeout)
	defer func() {
		if err := pool.Close(); err != nil {
			slog.Error("Error closing backend pool", "error", err)
		}
	}()

	gw := gateway.New(policy, pool, cfg.Gateway.DevMode)
	gatewayServer, err := serveHandler(cfg.Gateway.Addr(), cfg.Gateway.URL, gw.Handler())
	if err != nil {
		slog.Error("Failed to start gateway server", "error", err)
		os.Exit(1)
	}
	slog.Info("Gateway listening", "addr", cfg.Gateway.Addr(), "dev_mode", cfg.Gateway.DevMode)

	// Eager backend validation: every configured service must answer a tool
	// listing. Failures abort boot under strict startup; otherwise the
	// gateway degrades those services per call.
	validateBackends(ctx, pool, cfg.Gateway.Services)
	if failed := pool.FailedServers(); len(failed) > 0 {
		if cfg.Gateway.StrictStartup {
			slog.Error("Backend services failed startup validation", "failed_servers", failed)
			os.Exit(1)
		}
		slog.Warn("Starting degraded, some backend services unreachable", "failed_servers", failed)
	}

	// 6. Executor-facing gateway client
	gwClient, err := gateway.Connect(ctx, cfg.Gateway.URL)
	if err != nil {
		slog.Error("Failed to connect to gateway", "url", cfg.Gateway.URL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := gwClient.Close(); err != nil {
			slog.Error("Error closing gateway client", "error", err)
		}
	}()

	// 7. Agent state, lifecycle tracking, graph driver
	state := agent.NewState("tlt-agent")
	outbox := agent.NewOutbox()

	tracker := lifecycle.NewTracker(cfg.Agent.AbandonAfter)
	tracker.StartSweeper(ctx, cfg.Agent.SweepInterval)

	driver := graph.NewDriver(state, tracker, llmClient, gwClient, outbox, graph.Options{
		RecursionLimit:   cfg.Agent.RecursionLimit,
		ContextCacheSize: cfg.Agent.EventContextCacheSize,
	})
	driver.StartMaintenance(time.Minute)

	// 8. Task queue (before the HTTP server so the ingress never sees a
	// manager without a worker)
	registry := prometheus.NewRegistry()
	manager := queue.NewManager(driver, state, tracker, outbox, registry, queue.Options{
		RateLimitWindow:   time.Minute,
		RateLimitMax:      cfg.TaskManager.RateLimitPerMinute,
		QueueCeiling:      cfg.TaskManager.QueueSoftLimit,
		CompletionTimeout: cfg.TaskManager.CompletionTimeout,
		PollInterval:      cfg.TaskManager.CompletionPollInterval,
	})
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	manager.Start(workerCtx)

	// 9. HTTP server (non-blocking)
	httpServer := api.NewServer(manager, registry)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 10. Discord surface (optional)
	var chat *discord.Service
	var poller *discord.Poller
	if cfg.Discord.Enabled {
		chat, err = discord.NewService(cfg.Discord.Token())
		if err != nil {
			slog.Error("Failed to create Discord session", "error", err)
			os.Exit(1)
		}
	}
	if chat != nil {
		localBase := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

		messages := discord.NewMessageMap()
		messages.Rebuild(ctx, gwClient, listGuildIDs(ctx, gwClient))

		downloads := discord.NewDownloader(cfg.GuildData.DataDir(), cfg.Discord.DownloadTimeout)
		dispatcher := discord.NewDispatcher(localBase, chat, messages, downloads)
		chat.Bind(dispatcher)
		if err := chat.Open(); err != nil {
			slog.Error("Failed to open Discord session", "error", err)
			os.Exit(1)
		}

		poller = discord.NewPoller(localBase+"/monitor/agent/state", chat, messages, discord.PollerOptions{
			Interval:          cfg.Discord.PollInterval,
			SendRatePerSecond: cfg.Discord.SendRatePerSecond,
			SendBurst:         cfg.Discord.SendBurst,
		})
		poller.Start(ctx)
		slog.Info("Discord surface bound", "poll_interval", cfg.Discord.PollInterval)
	} else if cfg.Discord.Enabled {
		slog.Warn("Discord enabled but no bot token set, chat surface disabled")
	}

	slog.Info("TLT coordinator started")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: chat surface first, then the worker, then the
	// HTTP servers, so no accepted task loses its lifecycle record.
	state.SetStatus(agent.StatusStopping)
	if poller != nil {
		poller.Stop()
	}
	if err := chat.Close(); err != nil {
		slog.Error("Error closing Discord session", "error", err)
	}

	workerShutdownCtx, workerCancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer workerCancel2()
	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Queue worker stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Queue worker shutdown timeout exceeded")
	}

	driver.StopMaintenance()
	tracker.StopSweeper()

	// Stop HTTP servers with their own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := gatewayServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("Gateway server shutdown error", "error", err)
	}
	for _, srv := range backendServers {
		if err := srv.Shutdown(httpShutdownCtx); err != nil {
			slog.Error("Backend server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// startBackends serves each MCP backend at its configured URL. The listen
// address and mount path both come from the service URL, so the pool's
// client side and the server side can never disagree.
func startBackends(urls map[string]string, backends map[string]*services.Backend) ([]*http.Server, error) {
	servers := make([]*http.Server, 0, len(backends))
	for name, backend := range backends {
		raw, ok := urls[name]
		if !ok {
			return servers, fmt.Errorf("no URL configured for service %s", name)
		}
		srv, err := serveHandler(hostPortOf(raw), raw, backend.Handler())
		if err != nil {
			return servers, fmt.Errorf("start service %s: %w", name, err)
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// serveHandler mounts handler at the path of rawURL on addr and starts
// listening in the background.
func serveHandler(addr, rawURL string, handler http.Handler) (*http.Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL %q: %w", rawURL, err)
	}
	mountPath := u.Path
	if mountPath == "" {
		mountPath = "/"
	}

	mux := http.NewServeMux()
	mux.Handle(mountPath, handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "addr", addr, "error", err)
		}
	}()
	return srv, nil
}

func hostPortOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// validateBackends pings every configured service once the listeners are up.
// A short retry absorbs the race between ListenAndServe and the first dial.
func validateBackends(ctx context.Context, pool *gateway.BackendPool, urls map[string]string) {
	for name := range urls {
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if err = pool.Ping(ctx, name); err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			slog.Warn("Backend validation failed", "service", name, "error", err)
		}
	}
}

// listGuildIDs asks the guild manager for the registered guilds so the
// message map can be rebuilt after a restart. Best-effort: an unreachable
// service just means an empty map until events are recreated.
func listGuildIDs(ctx context.Context, client *gateway.Client) []string {
	env, err := client.Call(ctx, "list_guilds", nil)
	if err != nil {
		slog.Warn("Guild listing failed, skipping message map rebuild", "error", err)
		return nil
	}
	if !env.Success {
		slog.Warn("Guild listing rejected, skipping message map rebuild", "error", env.Error)
		return nil
	}
	raw, _ := env.Result["guild_ids"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
