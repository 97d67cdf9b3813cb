package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"journalflow/internal/app"
	"journalflow/internal/domain"
	"journalflow/internal/repo"
)

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Inspect and arrange workflow elements"}
	wf.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workflow elements in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.WorkflowElements(ctx, rt.Engine.Config.Journal.ID)
				if err != nil {
					return err
				}
				return printElements(items)
			})
		},
	})

	var order int
	add := &cobra.Command{
		Use:   "add <element>",
		Short: "Add a registered element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				el, err := rt.Engine.AddWorkflowElement(ctx, rt.Engine.Config.Journal.ID, args[0], order, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
	add.Flags().IntVar(&order, "order", 0, "position (defaults to the end)")
	wf.AddCommand(add)

	wf.AddCommand(&cobra.Command{
		Use:   "reorder <element>...",
		Short: "Set the element order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ReorderWorkflow(ctx, rt.Engine.Config.Journal.ID, args, actor())
				if err != nil {
					return err
				}
				return printElements(items)
			})
		},
	})
	return wf
}

func printElements(items []domain.WorkflowElement) error {
	rows := make([]table.Row, 0, len(items))
	for _, el := range items {
		rows = append(rows, table.Row{el.Order, el.ElementName, el.HandshakeURL})
	}
	return printTable(items, table.Row{"Order", "Element", "Handshake"}, rows)
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Articles grouped by workflow element",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cols, err := rt.Engine.Board(ctx, rt.Engine.Config.Journal.ID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(cols))
				for _, c := range cols {
					titles := make([]string, 0, len(c.Articles))
					for _, a := range c.Articles {
						titles = append(titles, fmt.Sprintf("%s (%s)", a.Title, a.Stage))
					}
					rows = append(rows, table.Row{c.Element.ElementName, len(c.Articles), strings.Join(titles, "\n")})
				}
				return printTable(cols, table.Row{"Element", "Articles", ""}, rows)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				f.JournalID = rt.Engine.Config.Journal.ID
				items, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				return printTable(items, table.Row{"#", "At", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}
