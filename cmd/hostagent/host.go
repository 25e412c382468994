package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/api"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/config"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/monitor"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/orchestrator"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/planner"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/server"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/state"
)

// host bundles the long-lived components built from a Config.
type host struct {
	cfg      *config.Config
	registry *session.Registry
	pool     *remote.Pool
	orch     *orchestrator.Orchestrator
}

type hostOptions struct {
	// push enables worker callbacks to the configured public URL.
	push bool
	// events enables the orchestrator event stream.
	events bool
}

// newHost wires the session store, connection pool, planner and orchestrator.
func newHost(cfg *config.Config, opts hostOptions) (*host, error) {
	store, err := openStore(cfg.Sessions)
	if err != nil {
		return nil, err
	}
	registry := session.NewRegistry(store,
		session.WithIdleTTL(cfg.Sessions.IdleTTL),
		session.WithPurgeInterval(cfg.Sessions.PurgeInterval),
	)

	p, err := newPlanner(cfg)
	if err != nil {
		registry.Close()
		return nil, err
	}

	pool := remote.NewPool(cfg.Endpoints(), remote.WithHTTPTransport(cfg.Transport.RequestTimeout, retryPolicy(cfg.Transport)))

	logger, err := orchestrator.NewDebugLogger(cfg.Logging.DebugFile)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithTurnDeadline(cfg.Orchestration.TurnDeadline),
		orchestrator.WithTaskTimeout(cfg.Orchestration.TaskTimeout),
		orchestrator.WithHistoryTurns(cfg.Orchestration.HistoryTurns),
		orchestrator.WithMonitorConfig(monitorConfig(cfg.Orchestration)),
		orchestrator.WithLogger(logger),
	}
	if opts.push && cfg.Server.PublicURL != "" {
		orchOpts = append(orchOpts, orchestrator.WithCallbackURL(strings.TrimRight(cfg.Server.PublicURL, "/")+server.EventsPath))
	}
	if opts.events {
		orchOpts = append(orchOpts, orchestrator.WithEvents(64))
	}

	orch := orchestrator.New(orchestrator.RequiredConfig{
		Registry: registry,
		Pool:     pool,
		Planner:  p,
	}, orchOpts...)

	return &host{cfg: cfg, registry: registry, pool: pool, orch: orch}, nil
}

// Close releases the orchestrator and the session store.
func (h *host) Close() error {
	oerr := h.orch.Close()
	if err := h.registry.Close(); err != nil {
		return err
	}
	return oerr
}

// reload applies a changed worker set. Other settings need a restart.
func (h *host) reload(cfg *config.Config) {
	h.pool.Reconfigure(cfg.Endpoints())
	log.Printf("[config] reloaded %d workers", len(cfg.Workers))
}

// openStore opens the configured session store.
func openStore(cfg config.SessionsConfig) (state.SessionStore, error) {
	switch cfg.Store {
	case "memory":
		return state.NewMemory(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = config.DefaultDBPath()
		}
		driver := cfg.Driver
		if driver == "" {
			driver = state.DriverModernc
		}
		db, err := state.OpenWithDriver(driver, path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate session store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// newPlanner builds the configured planner.
func newPlanner(cfg *config.Config) (planner.Planner, error) {
	switch cfg.Planner.Kind {
	case "anthropic":
		key, err := config.RequireAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("anthropic planner: %w", err)
		}
		client, err := api.NewClient(api.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        key,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("create API client: %w", err)
		}
		return planner.NewAnthropicPlanner(api.NewRunner(client)), nil
	default:
		rules := planner.DefaultRules()
		if cfg.Planner.RulesFile != "" {
			loaded, err := planner.LoadRules(cfg.Planner.RulesFile)
			if err != nil {
				return nil, err
			}
			rules = loaded
		}
		return planner.NewRulePlanner(rules), nil
	}
}

func retryPolicy(cfg config.TransportConfig) remote.RetryPolicy {
	return remote.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func monitorConfig(cfg config.OrchestrationConfig) monitor.Config {
	mc := monitor.DefaultConfig()
	mc.PollInitial = cfg.PollInitial
	mc.PollMax = cfg.PollMax
	if cfg.PollMultiplier >= 1 {
		mc.Multiplier = cfg.PollMultiplier
	}
	mc.ProbeRetries = cfg.ProbeRetries
	mc.CancelOnTimeout = cfg.CancelOnTimeout
	return mc
}

// probeTimeout bounds each card fetch in the workers command.
const probeTimeout = 5 * time.Second
