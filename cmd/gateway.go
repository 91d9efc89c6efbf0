package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielsimonjr/ironclaw/internal/bus"
	"github.com/danielsimonjr/ironclaw/internal/channels"
	"github.com/danielsimonjr/ironclaw/internal/channels/loopback"
	"github.com/danielsimonjr/ironclaw/internal/commandqueue"
	"github.com/danielsimonjr/ironclaw/internal/config"
	"github.com/danielsimonjr/ironclaw/internal/dispatcher"
	"github.com/danielsimonjr/ironclaw/internal/gateway"
	"github.com/danielsimonjr/ironclaw/internal/hotreload"
	"github.com/danielsimonjr/ironclaw/internal/retry"
	"github.com/danielsimonjr/ironclaw/internal/router"
	"github.com/danielsimonjr/ironclaw/internal/scheduler"
	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
	"github.com/danielsimonjr/ironclaw/internal/store"
	"github.com/danielsimonjr/ironclaw/internal/store/pg"
	"github.com/danielsimonjr/ironclaw/internal/store/sqlite"
	"github.com/danielsimonjr/ironclaw/internal/telemetry"
)

// runGateway loads configuration, wires every component of the ingestion,
// routing and delivery pipeline together, starts the channel transports and
// the WebSocket/HTTP front door, and blocks until interrupted.
func runGateway() {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without trace export", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	convDB, err := openConversationStore(cfg)
	if err != nil {
		slog.Error("open conversation store", "error", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus(256)
	sessions := sessionregistry.New(sessionregistry.Config{}, convDB)
	routes := buildRouter(cfg)
	queue := commandqueue.New(commandqueue.DefaultConfig())
	retries := retry.NewManager(retry.DefaultRetryConfig())

	var limiter *rate.Limiter
	if cfg.Gateway.RateLimitRPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.Gateway.RateLimitRPM)/60.0), cfg.Gateway.RateLimitRPM)
	}

	disp := dispatcher.New(dispatcher.DefaultConfig(), sessions, routes, queue, retries, limiter)
	sched := scheduler.New()
	startCronScheduler(ctx, sched)

	chanManager := channels.NewManager(msgBus)
	registerChannels(chanManager, cfg, msgBus)

	srv := gateway.NewServer(cfg, disp, sessions, msgBus)

	configCell := hotreload.NewConfig(cfg)
	reloadCtrl := hotreload.NewController(configCell, func(ctx context.Context) (*config.Config, error) {
		return config.Load(resolveConfigPath())
	})
	go reloadCtrl.Run(ctx)
	go func() {
		if err := hotreload.WatchFile(ctx, resolveConfigPath(), reloadCtrl); err != nil {
			slog.Warn("config file watch failed", "error", err)
		}
	}()

	if err := chanManager.StartAll(ctx); err != nil {
		slog.Error("start channels", "error", err)
		os.Exit(1)
	}

	go runInboundConsumer(ctx, msgBus, disp, sched, chanManager, cfg)

	slog.Info("ironclaw gateway starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway server", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := chanManager.StopAll(shutdownCtx); err != nil {
		slog.Warn("stop channels", "error", err)
	}
}

// openConversationStore picks the database-backed history fallback C8 reads
// from when a thread's in-memory turns are empty: Postgres in managed mode,
// an embedded SQLite file otherwise.
func openConversationStore(cfg *config.Config) (sessionregistry.Database, error) {
	if cfg.IsManagedMode() {
		store, err := pg.OpenConversationStore(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres conversation store: %w", err)
		}
		return store, nil
	}
	path := os.Getenv("GOCLAW_SQLITE_PATH")
	if path == "" {
		path = "ironclaw.db"
	}
	store, err := sqlite.OpenConversationStore(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite conversation store: %w", err)
	}
	return store, nil
}

// buildRouter constructs the agent router from the configured agent list,
// mapping each config.AgentSpec onto a router.AgentIdentity. The agent
// marked Default (or, absent one, the first by name) becomes the router's
// required default identity.
func buildRouter(cfg *config.Config) *router.AgentRouter {
	var defaultIdentity router.AgentIdentity
	var others []router.AgentIdentity
	haveDefault := false

	names := make([]string, 0, len(cfg.Agents.List))
	for name := range cfg.Agents.List {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := cfg.Agents.List[name]
		identity := router.AgentIdentity{
			Name:            name,
			Description:     spec.DisplayName,
			Enabled:         true,
			WorkspacePrefix: spec.Workspace,
		}
		if spec.Tools != nil {
			identity.AllowedTools = spec.Tools.Allow
		}
		if spec.Default && !haveDefault {
			defaultIdentity = identity
			haveDefault = true
			continue
		}
		others = append(others, identity)
	}

	if !haveDefault {
		if len(others) > 0 {
			defaultIdentity, others = others[0], others[1:]
		} else {
			defaultIdentity = router.AgentIdentity{Name: "default", Enabled: true}
		}
	}

	return router.New(defaultIdentity, others...)
}

// registerChannels registers the gateway's channel transports with manager.
// The only transport built in is loopback: an in-process Channel with no
// external protocol, used to exercise the ingestion/routing/delivery
// pipeline end to end (see internal/channels/loopback) and as the
// attachment point for a real transport once one is grounded against an
// actual wire protocol.
func registerChannels(manager *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) {
	if !cfg.Gateway.EnableLoopbackChannel {
		return
	}
	pairing := store.NewMemoryPairingStore()
	ch := loopback.New(loopback.Config{Name: "loopback"}, msgBus, pairing)
	manager.RegisterChannel(ch.Name(), ch)
}
