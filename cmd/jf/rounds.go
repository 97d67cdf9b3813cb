package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"journalflow/internal/app"
	"journalflow/internal/domain"
	"journalflow/internal/engine"
	"journalflow/internal/repo"
)

func roundCmd() *cobra.Command {
	r := &cobra.Command{Use: "round", Short: "Manage review, copyediting, typesetting and proofing rounds"}
	r.AddCommand(roundOpenCmd())
	r.AddCommand(roundListCmd())
	r.AddCommand(roundDeleteCmd())
	return r
}

func roundOpenCmd() *cobra.Command {
	var family string
	var after int
	cmd := &cobra.Command{
		Use:   "open <article-id>",
		Short: "Open the round after --after",
		Long:  "Opens round after+1. When another round was opened since, that round is shown instead and nothing is created.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.OpenRound(ctx, engine.OpenRoundRequest{
					ArticleID: args[0],
					Family:    domain.Family(family),
					ActorID:   actor(),
					After:     after,
				})
				if err != nil {
					return err
				}
				warnHandlers(rt, res.Report.Err())
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&family, "family", string(domain.FamilyReview), "review, copyediting, typesetting or proofing")
	cmd.Flags().IntVar(&after, "after", 0, "latest round number you have seen")
	return cmd
}

func roundListCmd() *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:   "list <article-id>",
		Short: "List an article's rounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListRounds(ctx, args[0], domain.Family(family))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, rd := range items {
					rows = append(rows, table.Row{rd.ID, rd.Family, rd.RoundNumber, rd.CreatedAt, deref(rd.ClosedAt)})
				}
				return printTable(items, table.Row{"ID", "Family", "Round", "Opened", "Closed"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "family filter")
	return cmd
}

func roundDeleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete <round-id>",
		Short: "Delete a round",
		Long:  "Empty rounds can always be deleted. A round holding tasks needs --confirm and must be the latest of its family.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteRound(ctx, engine.DeleteRoundRequest{RoundID: args[0], ActorID: actor(), Confirm: confirm})
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "delete even when tasks exist")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage review assignments and participant requests"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	for _, s := range taskSteps {
		t.AddCommand(taskStepCmd(s.use, s.short, s.run))
	}
	t.AddCommand(taskCompleteCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var assignee, due string
	var files []string
	cmd := &cobra.Command{
		Use:   "create <round-id>",
		Short: "Request work from an actor in a round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.CreateTask(ctx, engine.CreateTaskRequest{
					RoundID:  args[0],
					ActorID:  assignee,
					EditorID: actor(),
					DueDate:  due,
					Files:    files,
				})
				if err != nil {
					return err
				}
				warnHandlers(rt, res.Report.Err())
				return printJSONOrTable(res.Task)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "actor", "", "reviewer or participant actor id")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD (defaults from the family policy)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "file reference (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var family string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Family = domain.Family(family)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Family, t.ActorID, t.Status, deref(t.DueDate), t.Decision})
				}
				return printTable(items, table.Row{"ID", "Family", "Actor", "Status", "Due", "Decision"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.RoundID, "round", "", "round id")
	cmd.Flags().StringVar(&f.ArticleID, "article", "", "article id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "assignee")
	cmd.Flags().StringVar(&family, "family", "", "family filter")
	cmd.Flags().BoolVar(&f.OpenOnly, "open", false, "only requested or accepted tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

type taskFunc func(e engine.Engine, ctx context.Context, taskID, actorID string) (engine.TaskResult, error)

var taskSteps = []struct {
	use   string
	short string
	run   taskFunc
}{
	{"accept", "Accept a request", engine.Engine.AcceptTask},
	{"decline", "Decline a request", engine.Engine.DeclineTask},
	{"withdraw", "Withdraw a request", engine.Engine.WithdrawTask},
	{"reset", "Return a task to requested", engine.Engine.ResetTask},
}

func taskStepCmd(use, short string, run taskFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := run(rt.Engine, ctx, args[0], actor())
				if err != nil {
					return err
				}
				warnHandlers(rt, res.Report.Err())
				return printJSONOrTable(res.Task)
			})
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	var req engine.CompleteTaskRequest
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task, or save progress with --partial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskID, req.ActorID = args[0], actor()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.CompleteTask(ctx, req)
				if err != nil {
					return err
				}
				warnHandlers(rt, res.Report.Err())
				return printJSONOrTable(res.Task)
			})
		},
	}
	cmd.Flags().StringVar(&req.Decision, "decision", "", "review decision")
	cmd.Flags().StringVar(&req.Note, "note", "", "note")
	cmd.Flags().StringSliceVar(&req.Files, "file", nil, "file reference (repeatable)")
	cmd.Flags().BoolVar(&req.Partial, "partial", false, "save progress without completing")
	return cmd
}
