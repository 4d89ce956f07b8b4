package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contractline/internal/app"
	"contractline/internal/config"
	"contractline/internal/domain"
	"contractline/internal/server"
	"contractline/internal/store"
	"contractline/internal/telemetry"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [ids...]",
		Short: "Compute an execution plan",
		Long:  "Orders the given contracts (or every contract) so that dependencies come first, grouped into levels that can run in parallel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				plan, err := ws.Registry.Plan(args...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Level", "Contracts"})
				for i, group := range plan.ParallelGroups {
					tw.AppendRow(table.Row{i, strings.Join(group, ", ")})
				}
				tw.Render()
				fmt.Println("Order:", strings.Join(plan.ExecutionOrder, " -> "))
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show contract counts by lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				summary := ws.Registry.Summary()
				snap, err := ws.Store.LastSnapshot(ctx)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]any{
						"total":    summary.Total,
						"by_state": summary.ByState,
					}
					if err == nil {
						out["last_snapshot"] = snap
					}
					return printJSON(out)
				}
				fmt.Printf("Contracts: %d\n", summary.Total)
				if err == nil {
					fmt.Printf("Last saved: %s (%d contracts, %d new events)\n", snap.At.Format(time.RFC3339), snap.Contracts, snap.NewEvents)
				} else {
					fmt.Println("Last saved: never")
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"State", "Count"})
				for _, st := range domain.States {
					tw.AppendRow(table.Row{st, summary.ByState[st]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event journal",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, contractID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Store.LatestEvents(ctx, n, contractID, domain.EventType(evtType))
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&contractID, "contract", "", "contract id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "contractline.yml in the workspace sets default search fields, default priority and actor, server address, logging and telemetry. Defaults apply when it is absent.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrYAML(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate contractline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default contractline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			tp, err := telemetry.Setup(cmd.Context(), telemetry.Config{
				Enabled:  cfg.Telemetry.Enabled,
				Endpoint: cfg.Telemetry.Endpoint,
				Insecure: cfg.Telemetry.Insecure,
				Interval: time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second,
				Version:  version,
			})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			ws, err := app.Open(cmd.Context(), app.Options{
				Workspace:     viper.GetString("workspace"),
				Config:        cfg,
				Logger:        logger,
				MeterProvider: tp.MeterProvider,
			})
			if err != nil {
				return err
			}
			defer ws.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Registry:     ws.Registry,
				BasePath:     basePath,
				DefaultActor: actorID(cfg),
				Persister:    ws,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath, "contracts", ws.Registry.Len())
			fmt.Printf("Serving Contractline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}
