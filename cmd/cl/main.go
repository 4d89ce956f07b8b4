package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"contractline/internal/app"
	"contractline/internal/config"
	"contractline/internal/domain"
	"contractline/internal/registry"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Contractline CLI",
	Long: `Contractline keeps a registry of contracts between agents.
Core concepts:
- Contract: an obligation a provider agent owes its consumers, with tags, a priority and dependencies on other contracts.
- Lifecycle: DRAFT -> PROPOSED -> ACCEPTED -> IN_PROGRESS -> FULFILLED -> VERIFIED -> CLOSED; REJECTED and BREACHED are exits.
- Verification: an external result decides VERIFIED, VERIFIED_WITH_WARNINGS (advisory failures only) or BREACHED.
- Dependencies: a contract may depend on others; cycles are refused.
- Plan: a topological order of contracts with groups that can run in parallel.
- Workspace: the .contractline directory holding the database; contractline.yml is optional.
- Event log: every transition is journaled, view it with 'cl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CONTRACTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (defaults to registry.default_actor)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides log.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// loadConfig reads contractline.yml (or defaults) and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func actorID(cfg *config.Config) string {
	if a := strings.TrimSpace(viper.GetString("actor-id")); a != "" {
		return a
	}
	return cfg.Registry.DefaultActor
}

func openWorkspace(ctx context.Context) (*app.Workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		Logger:    logger,
	})
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// mutate runs one registry mutation, saves the snapshot and prints the
// resulting contract.
func mutate(ctx context.Context, fn func(reg *registry.Registry, actor string) (domain.Contract, error)) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		c, err := fn(ws.Registry, actorID(ws.Config))
		if err != nil {
			return err
		}
		if err := ws.Persist(ctx); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		return printContract(c)
	})
}

func printJSONOrYAML(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printContract(c domain.Contract) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", c.ID},
		{"Name", c.Name},
		{"Type", c.Type},
		{"State", c.State},
		{"Priority", c.Priority},
		{"Blocking", c.IsBlocking},
		{"Provider", c.ProviderAgent},
		{"Consumers", strings.Join(c.ConsumerAgents, ", ")},
		{"Depends on", strings.Join(c.DependsOn, ", ")},
		{"Tags", strings.Join(c.Tags, ", ")},
		{"Events", len(c.Events)},
		{"Updated", c.UpdatedAt.Format("2006-01-02 15:04:05")},
	})
	if c.Description != "" {
		tw.AppendRow(table.Row{"Description", c.Description})
	}
	tw.Render()
	return nil
}

func printContracts(cs []domain.Contract) error {
	if viper.GetBool("json") {
		if cs == nil {
			cs = []domain.Contract{}
		}
		return printJSON(cs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Type", "State", "Priority", "Provider", "Depends on"})
	for _, c := range cs {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Type, c.State, c.Priority, c.ProviderAgent, strings.Join(c.DependsOn, ", ")})
	}
	tw.Render()
	return nil
}

func printEvents(events []domain.ContractEvent) error {
	if viper.GetBool("json") {
		if events == nil {
			events = []domain.ContractEvent{}
		}
		return printJSON(events)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Time", "Contract", "Type", "Actor", "Event ID"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.Timestamp.Format("2006-01-02 15:04:05"), e.ContractID, e.Type, e.ActorID, e.ID})
	}
	tw.Render()
	return nil
}
