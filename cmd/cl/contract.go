package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"contractline/internal/app"
	"contractline/internal/domain"
	"contractline/internal/importer"
	"contractline/internal/registry"
)

func contractCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "contract",
		Aliases: []string{"c"},
		Short:   "Manage contracts",
	}
	c.AddCommand(contractRegisterCmd())
	c.AddCommand(contractGetCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractUpdateCmd())
	c.AddCommand(contractDeleteCmd())
	for _, t := range []struct {
		use, short string
		fn         func(reg *registry.Registry, id, actorID string) (domain.Contract, error)
	}{
		{"propose", "Propose a draft contract", (*registry.Registry).Propose},
		{"accept", "Accept a proposed contract and start work", (*registry.Registry).Accept},
		{"close", "Close a verified contract", (*registry.Registry).Close},
	} {
		c.AddCommand(&cobra.Command{
			Use:   t.use + " <id>",
			Short: t.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return mutate(cmd.Context(), func(reg *registry.Registry, actor string) (domain.Contract, error) {
					return t.fn(reg, args[0], actor)
				})
			},
		})
	}
	c.AddCommand(contractFulfillCmd())
	c.AddCommand(contractVerifyCmd())
	c.AddCommand(contractBreachCmd())
	c.AddCommand(contractHistoryCmd())
	c.AddCommand(contractGraphCmd("deps", "List contracts this one depends on", (*registry.Registry).Dependencies))
	c.AddCommand(contractGraphCmd("dependents", "List contracts depending on this one", (*registry.Registry).Dependents))
	c.AddCommand(contractSearchCmd())
	c.AddCommand(contractImportCmd())
	return c
}

type contractFlags struct {
	id, typ, name, description, provider, priority string
	tags, dependsOn, consumers                     []string
	blocking                                       bool
}

func (f *contractFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.id, "id", "", "contract id (generated when empty)")
	fs.StringVar(&f.typ, "type", "", "contract type")
	fs.StringVar(&f.name, "name", "", "contract name")
	fs.StringVar(&f.description, "description", "", "description")
	fs.StringVar(&f.provider, "provider", "", "provider agent id")
	fs.StringVar(&f.priority, "priority", "", "low|medium|high|critical")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	fs.StringSliceVar(&f.dependsOn, "depends-on", nil, "contract id this depends on (repeatable)")
	fs.StringSliceVar(&f.consumers, "consumer", nil, "consumer agent id (repeatable)")
	fs.BoolVar(&f.blocking, "blocking", false, "mark as blocking")
}

// apply copies the flags that were set on fs onto c.
func (f *contractFlags) apply(fs *pflag.FlagSet, c *domain.Contract) {
	if fs.Changed("type") {
		c.Type = f.typ
	}
	if fs.Changed("name") {
		c.Name = f.name
	}
	if fs.Changed("description") {
		c.Description = f.description
	}
	if fs.Changed("provider") {
		c.ProviderAgent = f.provider
	}
	if fs.Changed("priority") {
		c.Priority = domain.Priority(f.priority)
	}
	if fs.Changed("tag") {
		c.Tags = f.tags
	}
	if fs.Changed("depends-on") {
		c.DependsOn = f.dependsOn
	}
	if fs.Changed("consumer") {
		c.ConsumerAgents = f.consumers
	}
	if fs.Changed("blocking") {
		c.IsBlocking = f.blocking
	}
}

func contractRegisterCmd() *cobra.Command {
	var f contractFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a contract in DRAFT",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.name) == "" {
				return fmt.Errorf("--name required")
			}
			c := domain.Contract{ID: f.id}
			f.apply(cmd.Flags(), &c)
			return mutate(cmd.Context(), func(reg *registry.Registry, _ string) (domain.Contract, error) {
				return reg.Register(c)
			})
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

func contractUpdateCmd() *cobra.Command {
	var f contractFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update contract fields; lifecycle state and events are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd.Context(), func(reg *registry.Registry, _ string) (domain.Contract, error) {
				c, err := reg.Get(args[0])
				if err != nil {
					return domain.Contract{}, err
				}
				f.apply(cmd.Flags(), &c)
				return reg.Update(c)
			})
		},
	}
	f.bind(cmd.Flags())
	_ = cmd.Flags().MarkHidden("id")
	return cmd
}

func contractGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				c, err := ws.Registry.Get(args[0])
				if err != nil {
					return err
				}
				return printContract(c)
			})
		},
	}
}

func contractListCmd() *cobra.Command {
	var typ, state, provider, consumer, priority, blocking string
	var tags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := registry.Filter{
				Type:          typ,
				ProviderAgent: provider,
				ConsumerAgent: consumer,
				Priority:      domain.Priority(priority),
				Tags:          tags,
			}
			if state != "" {
				st, err := domain.ParseState(state)
				if err != nil {
					return err
				}
				f.State = st
			}
			switch blocking {
			case "":
			case "true", "false":
				b := blocking == "true"
				f.IsBlocking = &b
			default:
				return fmt.Errorf("--blocking must be true or false")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printContracts(ws.Registry.List(f))
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "contract type filter")
	cmd.Flags().StringVar(&state, "state", "", "lifecycle state filter")
	cmd.Flags().StringVar(&provider, "provider", "", "provider agent filter")
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer agent filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&blocking, "blocking", "", "true|false")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "required tag (repeatable)")
	return cmd
}

func contractDeleteCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft delete a contract (moves it to REJECTED)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd.Context(), func(reg *registry.Registry, actor string) (domain.Contract, error) {
				return reg.Delete(args[0], actor, reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func contractFulfillCmd() *cobra.Command {
	var deliverables []string
	cmd := &cobra.Command{
		Use:   "fulfill <id>",
		Short: "Record deliverables of an in-progress contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd.Context(), func(reg *registry.Registry, actor string) (domain.Contract, error) {
				return reg.Fulfill(args[0], actor, deliverables)
			})
		},
	}
	cmd.Flags().StringSliceVar(&deliverables, "deliverable", nil, "deliverable reference (repeatable)")
	_ = cmd.MarkFlagRequired("deliverable")
	return cmd
}

func contractVerifyCmd() *cobra.Command {
	var passed bool
	var pass, fail, advisory []string
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Apply a verification result",
		Long:  "A passing result verifies the contract (with warnings when only advisory criteria failed); a failing one breaches it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := verificationFromFlags(passed, pass, fail, advisory)
			return mutate(cmd.Context(), func(reg *registry.Registry, actor string) (domain.Contract, error) {
				return reg.Verify(args[0], actor, result)
			})
		},
	}
	cmd.Flags().BoolVar(&passed, "passed", false, "overall verdict")
	cmd.Flags().StringSliceVar(&pass, "pass", nil, "criterion id that passed (repeatable)")
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "criterion id that failed (repeatable)")
	cmd.Flags().StringSliceVar(&advisory, "advisory", nil, "criterion id whose failure is only a warning (repeatable)")
	return cmd
}

func verificationFromFlags(passed bool, pass, fail, advisory []string) domain.VerificationResult {
	nonBlocking := make(map[string]bool, len(advisory))
	for _, id := range advisory {
		nonBlocking[id] = true
	}
	result := domain.VerificationResult{Passed: passed}
	add := func(id string, ok bool) {
		cr := domain.CriterionResult{ID: id, Passed: ok}
		if nonBlocking[id] {
			b := false
			cr.Blocking = &b
		}
		result.Criteria = append(result.Criteria, cr)
	}
	for _, id := range pass {
		add(id, true)
	}
	for _, id := range fail {
		add(id, false)
	}
	return result
}

func contractBreachCmd() *cobra.Command {
	var b domain.ContractBreach
	var severity string
	cmd := &cobra.Command{
		Use:   "breach <id>",
		Short: "Report a breach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Severity = domain.Severity(severity)
			return mutate(cmd.Context(), func(reg *registry.Registry, actor string) (domain.Contract, error) {
				return reg.Breach(args[0], actor, b)
			})
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "low|medium|high|critical (default medium)")
	cmd.Flags().StringVar(&b.Description, "description", "", "what went wrong")
	cmd.Flags().StringSliceVar(&b.FailedCriteria, "failed-criterion", nil, "failed criterion id (repeatable)")
	return cmd
}

func contractHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show contract events in time order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Registry.History(args[0])
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
}

func contractGraphCmd(use, short string, query func(*registry.Registry, string) ([]domain.Contract, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cs, err := query(ws.Registry, args[0])
				if err != nil {
					return err
				}
				return printContracts(cs)
			})
		},
	}
}

func contractSearchCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Case-insensitive substring search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sf []registry.SearchField
			for _, raw := range fields {
				f, err := registry.ParseSearchField(raw)
				if err != nil {
					return err
				}
				sf = append(sf, f)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printContracts(ws.Registry.Search(args[0], sf...))
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "name|description|tags|contract_id|contract_type (repeatable)")
	return cmd
}

func contractImportCmd() *cobra.Command {
	var file string
	var opts importer.Options
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Register contracts from a YAML or JSON manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			contracts, err := importer.ParseFile(file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := importer.Apply(ws.Registry, contracts, opts)
				// Contracts registered before a failure are kept.
				if len(res.Created) > 0 {
					if perr := ws.Persist(ctx); perr != nil {
						return fmt.Errorf("save snapshot: %w", perr)
					}
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("imported %d contract(s), skipped %d\n", len(res.Created), len(res.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "manifest path")
	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false, "skip contracts whose id is already registered")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
