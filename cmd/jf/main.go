package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"journalflow/internal/app"
	"journalflow/internal/db"
	"journalflow/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "jf",
	Short: "journalflow CLI",
	Long: `journalflow runs the editorial workflow of a journal.
- Workspace: the .journalflow directory holding the database; the journal config lives in the database once the journal exists.
- Articles move through stages from Unsubmitted to Published. Editorial actions follow the transition table; override sets any stage and is logged as such.
- Rounds group review, copyediting, typesetting and proofing work. Opening a new round withdraws what is still open in the previous one.
- Tasks are requests to a reviewer or participant inside a round: requested, accepted, completed, declined or withdrawn.
- Workflow elements order the stages into a pipeline; completing one hands the article to the next.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
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
	viper.SetEnvPrefix("JF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("journal", "", "journal id (defaults to the only journal)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-file", "", "also append logs to this file")
	flags.String("nats-url", "", "relay events to this NATS server")
	for _, name := range []string{"workspace", "json", "actor-id", "journal", "log-level", "log-format", "log-file", "nats-url"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(articleCmd())
	rootCmd.AddCommand(roundCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the journal and provision its workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" {
				viper.Set("journal", id)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				els, err := rt.Engine.WorkflowElements(ctx, rt.Engine.Config.Journal.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"journal": rt.Engine.Config.Journal, "workflow": els})
				}
				fmt.Printf("Journal %s ready with %d workflow elements\n", rt.Engine.Config.Journal.ID, len(els))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "journal id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the journal config",
		Long:  "The config is stored in the database. A journalflow.yml in the workspace seeds it when the journal is first created.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if viper.GetBool("json") {
					return printJSON(rt.Engine.Config)
				}
				data, err := rt.Engine.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.Config.Validate()
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
	})
	return cfg
}

// --- helpers ---

func newLogger() (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		Path:   viper.GetString("log-file"),
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		JournalID: viper.GetString("journal"),
		ActorID:   actor(),
		NATSURL:   viper.GetString("nats-url"),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("close runtime", "error", err)
		}
	}()
	return fn(ctx, rt)
}

func actor() string {
	return viper.GetString("actor-id")
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

// printTable renders rows unless --json asks for v instead.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
