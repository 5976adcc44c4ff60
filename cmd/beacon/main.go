package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/opsmith/beacon"
	"github.com/opsmith/beacon/config"
	"github.com/opsmith/beacon/dashboard"
	"github.com/opsmith/beacon/logging"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	app := NewApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "beacon",
		Usage:   "client telemetry and resilience pipeline",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Commands: []*cli.Command{
			runCommand(),
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the pipeline with its ops dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dashboard-addr",
				Usage: "dashboard listen address (overrides BEACON_DASHBOARD_ADDR)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "sqlite path for persisted state (overrides BEACON_DB_PATH)",
			},
			&cli.BoolFlag{
				Name:  "new-session",
				Usage: "mint a fresh trace id instead of reusing the persisted one",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr := c.String("dashboard-addr"); addr != "" {
				cfg.DashboardAddr = addr
			}
			if db := c.String("db"); db != "" {
				cfg.DBPath = db
			}
			return run(cfg, c.Bool("new-session"))
		},
	}
}

func run(cfg config.Config, newSession bool) error {
	var dash *dashboard.Server

	pipeline, err := beacon.New(beacon.Options{
		Config:     cfg,
		NewSession: newSession,
		OnSend: func(batch []logging.Entry) {
			if dash != nil {
				dash.Broadcast(batch)
			}
		},
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	dash = dashboard.NewServer(dashboard.ServerConfig{
		Addr:      cfg.DashboardAddr,
		Registry:  pipeline.Registry,
		Transport: pipeline.Transport,
		Stats: func() map[string]interface{} {
			return map[string]interface{}{
				"trace_id":            pipeline.Session.TraceID(),
				"online":              pipeline.Engine.Online(),
				"exceptions_reported": pipeline.Exceptions.Reported(),
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	pipeline.Logger.Info(logging.LayerService, "pipeline started", logging.Fields{
		"trace_id":  pipeline.Session.TraceID(),
		"dashboard": cfg.DashboardAddr,
	})

	go heartbeat(ctx, pipeline)

	fmt.Printf("beacon running, dashboard on http://%s\n", cfg.DashboardAddr)
	return dash.Start(ctx)
}

// heartbeat emits a periodic performance entry so the tail and the backend
// can tell a quiet pipeline from a dead one.
func heartbeat(ctx context.Context, p *beacon.Pipeline) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.Transport.Stats()
			p.Logger.Info(logging.LayerPerformance, "pipeline heartbeat", logging.Fields{
				"sent":    stats.Sent,
				"dropped": stats.Dropped,
				"failed":  stats.Failed,
			})
		}
	}
}
