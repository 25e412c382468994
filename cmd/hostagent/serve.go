package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/config"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/server"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host agent HTTP API",
	Long: `Serve the host agent over HTTP.

Endpoints:
  POST /v1/turns                 {"context_id": "...", "text": "..."}
  GET  /v1/sessions/:id          session and turn log
  POST /v1/sessions/:id/cancel   cancel in-flight delegations
  GET  /v1/workers               configured workers and health
  POST /v1/tasks/events          worker push notifications
  GET  /.well-known/agent.json   agent card

Workers are told to push results to server.public_url when it is set;
otherwise tasks are polled. With --watch, edits to the worker list in the
config file are applied without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload workers when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	h, err := newHost(cfg, hostOptions{push: true})
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h.registry.Start(ctx)

	if serveWatch {
		path := configPath
		if path == "" {
			path = config.ActiveConfigPath()
		}
		if path != "" {
			w, err := config.NewWatcher(path, h.reload)
			if err != nil {
				log.Printf("[config] not watching %s: %v", path, err)
			} else {
				defer w.Close()
				log.Printf("[config] watching %s", path)
			}
		}
	}

	card := remote.AgentCard{
		Name:        "host_agent",
		Description: "Routes requests to specialised agents and combines their results.",
		URL:         cfg.Server.PublicURL,
		Version:     Version(),
		Capabilities: remote.Capabilities{
			PushNotifications: cfg.Server.PublicURL != "",
		},
	}
	for _, ep := range h.pool.Endpoints() {
		card.Skills = append(card.Skills, remote.Skill{
			ID:          ep.Name,
			Name:        ep.Name,
			Description: ep.CapabilityOrName(),
		})
	}

	fmt.Printf("hostagent %s serving on %s with %d workers\n", Version(), addr, len(cfg.Workers))
	return server.New(h.orch, server.WithCard(card)).Run(ctx, addr)
}
