package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"complyline/internal/app"
	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/repo"
	"complyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cly",
	Short: "Complyline CLI",
	Long: `Complyline tracks compliance obligations against the mechanisms that satisfy them.
Core concepts:
- Workspace: your .complyline directory holding only the database; configs live in the DB and are imported explicitly.
- Project: the compliance register that owns all mechanisms, obligations, and audits.
- Mechanisms: controls (policies, procedures, registers) that group obligations and carry live status counters.
- Obligations: dated compliance duties with statuses not_started -> in_progress -> completed; overdue and upcoming are derived, never stored.
- Recurring obligations: forecast their next due date from a frequency (weekly, monthly, quarterly, annually).
- Audits: reviews scoped to mechanisms; each in-scope obligation becomes an entry awaiting a finding.
- Findings: compliant, noncompliant, or not_applicable; noncompliant entries need mitigations, and mitigations may need corrective actions.
- Evidence: metadata records pointing at supporting material for an obligation.
- Event log: diary of changes, view with 'cly log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COMPLYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(mechanismCmd())
	rootCmd.AddCommand(obligationCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, org, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, org, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if err := e.Repo.UpsertProjectConfig(cmd.Context(), id, cfg); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&org, "org", "default-org", "organisation id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				return e.Repo.DeleteProject(ctx, target)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "COMPLYLINE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set COMPLYLINE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigExportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.ImportConfig(ctx, e.Config.Project.ID, data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigExportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export project config from the DB as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.ExportConfig(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if filePath == "" {
					fmt.Print(string(data))
					return nil
				}
				if err := os.WriteFile(filePath, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote config to %s\n", filePath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "output path (stdout if omitted)")
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project compliance status",
		Long:  "See the scoreboard for your project: obligation counts with derived overdue and upcoming, mechanism and audit totals, and open mitigations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID = strings.TrimSpace(projectID)
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				report, err := e.ProjectStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("Project: %s\n", report.ProjectID)
				fmt.Println("Obligations:")
				fmt.Printf("  not_started: %d\n", report.Obligations.NotStarted)
				fmt.Printf("  in_progress: %d\n", report.Obligations.InProgress)
				fmt.Printf("  completed:   %d\n", report.Obligations.Completed)
				fmt.Printf("  overdue:     %d\n", report.Obligations.Overdue)
				fmt.Printf("  upcoming:    %d\n", report.Obligations.Upcoming)
				fmt.Printf("  total:       %d\n", report.Obligations.Total)
				fmt.Printf("Mechanisms: %d\n", report.Mechanisms)
				fmt.Printf("Audits: %d (noncompliant entries: %d, open mitigations: %d)\n",
					report.Audits, report.NoncompliantEntries, report.OpenMitigations)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func mechanismCmd() *cobra.Command {
	mech := &cobra.Command{
		Use:   "mechanism",
		Short: "Manage mechanisms",
		Long:  "Mechanisms are the controls that satisfy obligations (policies, procedures, registers). Each one carries cached counters of its member obligations by effective status.",
	}
	mech.AddCommand(mechanismCreateCmd())
	mech.AddCommand(mechanismListCmd())
	mech.AddCommand(mechanismShowCmd())
	mech.AddCommand(mechanismUpdateCmd())
	mech.AddCommand(mechanismDeleteCmd())
	mech.AddCommand(mechanismRecountCmd())
	mech.AddCommand(mechanismResyncCmd())
	return mech
}

func mechanismCreateCmd() *cobra.Command {
	var opts engine.MechanismCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mechanism",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				m, err := e.CreateMechanism(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "mechanism id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "external reference (clause, regulation)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func mechanismListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mechanisms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMechanisms(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reference", "Name", "Not Started", "In Progress", "Completed", "Overdue"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Reference, m.Name, m.NotStarted, m.InProgress, m.Completed, m.Overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func mechanismShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mechanism",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetMechanism(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func mechanismUpdateCmd() *cobra.Command {
	var reference, name, description, category string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a mechanism",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MechanismUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("reference") {
				opts.Reference = &reference
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateMechanism(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "external reference")
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	return cmd
}

func mechanismDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a mechanism (fails while obligations reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteMechanism(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func mechanismRecountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recount <id>",
		Short: "Recount a mechanism's obligation counters from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.RecountMechanism(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"mechanism_id": id,
						"not_started":  counts.NotStarted,
						"in_progress":  counts.InProgress,
						"completed":    counts.Completed,
						"overdue":      counts.Overdue,
					})
				}
				fmt.Printf("Mechanism %s: not_started=%d in_progress=%d completed=%d overdue=%d\n",
					id, counts.NotStarted, counts.InProgress, counts.Completed, counts.Overdue)
				return nil
			})
		},
	}
	return cmd
}

func mechanismResyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Recount all mechanisms in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ResyncMechanisms(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": e.Config.Project.ID, "mechanisms": n})
				}
				fmt.Printf("Recounted %d mechanisms\n", n)
				return nil
			})
		},
	}
	return cmd
}

func obligationCmd() *cobra.Command {
	ob := &cobra.Command{
		Use:   "obligation",
		Short: "Manage obligations",
		Long:  "Obligations are the dated compliance duties. They flow not_started -> in_progress -> completed; completion requires a close-out date, and recurring obligations forecast their next due date.",
	}
	ob.AddCommand(obligationCreateCmd())
	ob.AddCommand(obligationListCmd())
	ob.AddCommand(obligationGetCmd())
	ob.AddCommand(obligationUpdateCmd())
	ob.AddCommand(obligationDeleteCmd())
	ob.AddCommand(obligationAssignCmd())
	ob.AddCommand(obligationUnassignCmd())
	ob.AddCommand(obligationAssigneesCmd())
	ob.AddCommand(evidenceCmd())
	return ob
}

func obligationCreateCmd() *cobra.Command {
	var opts engine.ObligationCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an obligation",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				o, err := e.CreateObligation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(e.ViewObligation(o))
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "obligation id (optional, PREFIX-NNN if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.MechanismID, "mechanism", "", "mechanism id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (default not_started)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.CloseOutDate, "close-out", "", "close-out date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.Recurring, "recurring", false, "recurring obligation")
	cmd.Flags().StringVar(&opts.RecurringFrequency, "frequency", "", "recurrence frequency (weekly, monthly, quarterly, annually)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func obligationListCmd() *cobra.Command {
	var f repo.ObligationFilters
	var recurring string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List obligations",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch recurring {
			case "", "true", "false":
			default:
				return fmt.Errorf("--recurring must be true or false")
			}
			if recurring != "" {
				v := recurring == "true"
				f.Recurring = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				views, err := e.ListObligations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Effective", "Due", "Mechanism"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.ID, v.Title, v.Status, v.EffectiveStatus, stringOr(v.DueDate, "-"), stringOr(v.MechanismID, "-")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.MechanismID, "mechanism", "", "mechanism filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&recurring, "recurring", "", "recurring filter (true or false)")
	cmd.Flags().StringVar(&f.DueBefore, "due-before", "", "due before date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.DueAfter, "due-after", "", "due after date (YYYY-MM-DD)")
	return cmd
}

func obligationGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get obligation with derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetObligation(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(e.ViewObligation(o))
			})
		},
	}
	return cmd
}

func obligationUpdateCmd() *cobra.Command {
	var mechanism, title, description, status, due, closeOut, frequency string
	var recurring bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ObligationUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("mechanism") {
				opts.MechanismID = &mechanism
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			if cmd.Flags().Changed("close-out") {
				opts.CloseOutDate = &closeOut
			}
			if cmd.Flags().Changed("recurring") {
				opts.Recurring = &recurring
			}
			if cmd.Flags().Changed("frequency") {
				opts.RecurringFrequency = &frequency
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateObligation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(e.ViewObligation(o))
			})
		},
	}
	cmd.Flags().StringVar(&mechanism, "mechanism", "", "mechanism id (empty detaches)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&closeOut, "close-out", "", "close-out date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "recurring obligation")
	cmd.Flags().StringVar(&frequency, "frequency", "", "recurrence frequency")
	return cmd
}

func obligationDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteObligation(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func obligationAssignCmd() *cobra.Command {
	var actorID, role string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign an actor to an obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AssignObligation(ctx, id, actorID, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "assignee actor id")
	cmd.Flags().StringVar(&role, "role", "", "assignment role")
	return cmd
}

func obligationUnassignCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "unassign <id>",
		Short: "Remove an actor assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnassignObligation(ctx, id, actorID, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "assignee actor id")
	return cmd
}

func obligationAssigneesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignees <id>",
		Short: "List an obligation's assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssignments(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{
		Use:   "evidence",
		Short: "Manage evidence records",
	}
	ev.AddCommand(evidenceAddCmd())
	ev.AddCommand(evidenceListCmd())
	ev.AddCommand(evidenceRemoveCmd())
	return ev
}

func evidenceAddCmd() *cobra.Command {
	var opts engine.EvidenceAddOptions
	cmd := &cobra.Command{
		Use:   "add <obligation-id>",
		Short: "Attach an evidence record to an obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ObligationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AddEvidence(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "evidence id (optional)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "evidence kind (document, link, certificate)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.URL, "url", "", "location of the material")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func evidenceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <obligation-id>",
		Short: "List evidence for an obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEvidence(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func evidenceRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <evidence-id>",
		Short: "Remove an evidence record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteEvidence(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Manage audits",
		Long:  "Audits review a set of mechanisms. Every obligation under an in-scope mechanism becomes an entry; noncompliant findings open mitigations, and mitigations may carry corrective actions.",
	}
	a.AddCommand(auditCreateCmd())
	a.AddCommand(auditListCmd())
	a.AddCommand(auditGetCmd())
	a.AddCommand(auditDeleteCmd())
	a.AddCommand(auditScopeCmd())
	a.AddCommand(auditEntriesCmd())
	a.AddCommand(auditRebuildCmd())
	a.AddCommand(findingCmd())
	a.AddCommand(mitigationCmd())
	a.AddCommand(actionCmd())
	return a
}

func auditCreateCmd() *cobra.Command {
	var opts engine.AuditCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an audit scoped to mechanisms",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				a, err := e.CreateAudit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "audit id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&opts.MechanismIDs, "mechanism", []string{}, "in-scope mechanism id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func auditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAudits(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func auditGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAudit(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func auditDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an audit with its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAudit(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func auditScopeCmd() *cobra.Command {
	var mechanisms []string
	cmd := &cobra.Command{
		Use:   "scope <id>",
		Short: "Replace an audit's mechanism scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAuditMechanisms(ctx, id, mechanisms, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringArrayVar(&mechanisms, "mechanism", []string{}, "in-scope mechanism id (repeatable)")
	return cmd
}

func auditEntriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries <id>",
		Short: "List audit entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAuditEntries(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Obligation", "Status", "Finding"})
				for _, en := range items {
					tw.AppendRow(table.Row{en.ID, en.ObligationID, en.Status, en.Finding})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func auditRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <id>",
		Short: "Rebuild entries from current scope, keeping recorded findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.RebuildAuditEntries(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"audit_id": id, "entries": n})
				}
				fmt.Printf("Audit %s has %d entries\n", id, n)
				return nil
			})
		},
	}
	return cmd
}

func findingCmd() *cobra.Command {
	var finding, notes string
	cmd := &cobra.Command{
		Use:   "finding <entry-id>",
		Short: "Record a finding on an audit entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				en, err := e.SetEntryFinding(ctx, id, finding, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(en)
			})
		},
	}
	cmd.Flags().StringVar(&finding, "finding", "", "finding (compliant, noncompliant, not_applicable)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("finding")
	return cmd
}

func mitigationCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mitigation",
		Short: "Manage mitigations on noncompliant entries",
	}
	m.AddCommand(mitigationAddCmd())
	m.AddCommand(mitigationListCmd())
	m.AddCommand(mitigationUpdateCmd())
	m.AddCommand(mitigationDeleteCmd())
	return m
}

func mitigationAddCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add <entry-id>",
		Short: "Add a mitigation to a noncompliant entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if description == "" {
				return fmt.Errorf("--description required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMitigation(ctx, id, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func mitigationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <entry-id>",
		Short: "List mitigations on an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMitigations(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func mitigationUpdateCmd() *cobra.Command {
	var description, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update or close a mitigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MitigationUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateMitigation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (open, closed)")
	return cmd
}

func mitigationDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a mitigation (fails while actions remain)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteMitigation(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func actionCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "action",
		Short: "Manage corrective actions",
	}
	a.AddCommand(actionAddCmd())
	a.AddCommand(actionListCmd())
	a.AddCommand(actionUpdateCmd())
	a.AddCommand(actionDeleteCmd())
	return a
}

func actionAddCmd() *cobra.Command {
	var opts engine.CorrectiveActionOptions
	cmd := &cobra.Command{
		Use:   "add <mitigation-id>",
		Short: "Add a corrective action to a mitigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.MitigationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ca, err := e.AddCorrectiveAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ca)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func actionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <mitigation-id>",
		Short: "List corrective actions on a mitigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCorrectiveActions(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func actionUpdateCmd() *cobra.Command {
	var description, status, due string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update or close a corrective action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CorrectiveActionUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ca, err := e.UpdateCorrectiveAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ca)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (open, in_progress, closed)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func actionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a corrective action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteCorrectiveAction(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): project id/kind, identifier prefix, upcoming window, default recurrence frequency, webhooks, and RBAC roles. Import from complyline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: obligation changes, recounts, findings, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Project.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Project.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap an actor role without RBAC checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			projectID := strings.TrimSpace(viper.GetString("project"))
			if projectID == "" {
				return fmt.Errorf("project not specified; use --project or set COMPLYLINE_DEFAULT_PROJECT (cly project use <id>)")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, projectID); err != nil {
					return err
				}
				cfg, cfgErr := r.GetProjectConfig(ctx, projectID)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if cfgErr == nil && cfg != nil {
					if roleDef, ok := cfg.RBAC.Roles[role]; ok {
						if err := r.InsertRole(ctx, tx, role, roleDef.Description); err != nil {
							return err
						}
						for _, perm := range roleDef.Permissions {
							if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
								return err
							}
							if err := r.AddRolePermission(ctx, tx, role, perm); err != nil {
								return err
							}
						}
					} else {
						if err := r.InsertRole(ctx, tx, role, ""); err != nil {
							return err
						}
					}
				} else {
					if err := r.InsertRole(ctx, tx, role, ""); err != nil {
						return err
					}
				}
				if err := r.EnsureActor(ctx, tx, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.AssignRole(ctx, tx, projectID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "cly_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: actorID,
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actorID, "name": name, "key": secret})
				}
				fmt.Printf("Created API key %s for %s\n", key.ID, actorID)
				fmt.Printf("Key (store it now, it is not shown again): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("COMPLYLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("COMPLYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Complyline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
