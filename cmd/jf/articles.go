package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"journalflow/internal/app"
	"journalflow/internal/engine"
	"journalflow/internal/identifiers"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
	"journalflow/internal/workflow"
)

func articleCmd() *cobra.Command {
	art := &cobra.Command{Use: "article", Aliases: []string{"a"}, Short: "Manage articles"}
	art.AddCommand(articleCreateCmd())
	art.AddCommand(articleListCmd())
	art.AddCommand(articleShowCmd())
	art.AddCommand(articleStepCmd())
	art.AddCommand(articleLogCmd())
	art.AddCommand(articleMoveCmd("move", "Move along the transition table", engine.Engine.Transition))
	art.AddCommand(articleMoveCmd("override", "Set any registered stage", engine.Engine.Override))
	for _, c := range simpleActions {
		art.AddCommand(articleActionCmd(c.use, c.short, c.run))
	}
	art.AddCommand(articleAssignCmd())
	art.AddCommand(articleRevisionsCmd())
	art.AddCommand(articleCompleteElementCmd())
	art.AddCommand(articleReentryCmd())
	art.AddCommand(articleDOICmd())
	return art
}

func articleCreateCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an article in Unsubmitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.CreateArticle(ctx, engine.CreateArticleRequest{
					JournalID: rt.Engine.Config.Journal.ID,
					Title:     title,
					ActorID:   actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "article title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func articleListCmd() *cobra.Command {
	var stages []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListArticles(ctx, repo.ArticleFilters{
					JournalID: rt.Engine.Config.Journal.ID,
					Stages:    stages,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, a := range items {
					rows = append(rows, table.Row{a.ID, a.Title, a.Stage, a.CurrentStep, a.UpdatedAt})
				}
				return printTable(items, table.Row{"ID", "Title", "Stage", "Step", "Updated"}, rows)
			})
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "stage filter (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func articleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <article-id>",
		Short: "Show an article with its workflow position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.GetArticle(ctx, args[0])
				if err != nil {
					return err
				}
				cur, next, err := rt.Engine.ArticleElements(ctx, a.ID)
				if err != nil {
					rt.Logger.Warn("workflow position unavailable", "article", a.ID, "error", err)
				}
				return printJSONOrTable(map[string]any{"article": a, "element": cur, "next_element": next})
			})
		},
	}
}

func articleStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step <article-id> <step>",
		Short: "Record submission wizard progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("step must be a number: %w", err)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.SetSubmissionStep(ctx, args[0], step, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func articleLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <article-id>",
		Short: "Show the stage transition log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.TransitionLog(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, st := range items {
					override := ""
					if st.Override {
						override = "override"
					}
					rows = append(rows, table.Row{st.ID, st.FromStage, st.ToStage, st.ActorID, st.At, override})
				}
				return printTable(items, table.Row{"#", "From", "To", "Actor", "At", ""}, rows)
			})
		},
	}
}

type transitionFunc func(e engine.Engine, ctx context.Context, req engine.TransitionRequest) (engine.TransitionResult, error)

func articleMoveCmd(use, short string, run transitionFunc) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   use + " <article-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := run(rt.Engine, ctx, engine.TransitionRequest{ArticleID: args[0], To: stage.Stage(to), ActorID: actor()})
				return printTransition(rt, res, err)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

type articleAction func(e engine.Engine, ctx context.Context, articleID, actorID string) (engine.TransitionResult, error)

var simpleActions = []struct {
	use   string
	short string
	run   articleAction
}{
	{"submit", "Submit the article", engine.Engine.Submit},
	{"accept", "Accept for copyediting", engine.Engine.Accept},
	{"decline", "Decline the article", engine.Engine.Decline},
	{"undecline", "Reopen a declined article", engine.Engine.Undecline},
	{"complete-revisions", "Return the revised article to review", engine.Engine.CompleteRevisions},
	{"publish", "Publish the article", engine.Engine.Publish},
	{"archive", "Archive the article", engine.Engine.Archive},
}

func articleActionCmd(use, short string, run articleAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <article-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := run(rt.Engine, ctx, args[0], actor())
				return printTransition(rt, res, err)
			})
		},
	}
}

func articleAssignCmd() *cobra.Command {
	var editor string
	cmd := &cobra.Command{
		Use:   "assign <article-id>",
		Short: "Assign an editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.AssignEditor(ctx, engine.AssignEditorRequest{ArticleID: args[0], EditorID: editor, ActorID: actor()})
				return printTransition(rt, res, err)
			})
		},
	}
	cmd.Flags().StringVar(&editor, "editor", "", "editor actor id")
	_ = cmd.MarkFlagRequired("editor")
	return cmd
}

func articleRevisionsCmd() *cobra.Command {
	var due, note string
	cmd := &cobra.Command{
		Use:   "request-revisions <article-id>",
		Short: "Send the article back to the author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.RequestRevisions(ctx, engine.RevisionRequest{ArticleID: args[0], ActorID: actor(), DueDate: due, Note: note})
				return printTransition(rt, res, err)
			})
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringVar(&note, "note", "", "note to the author")
	return cmd
}

func articleCompleteElementCmd() *cobra.Command {
	var element, handshake string
	var switchStage bool
	cmd := &cobra.Command{
		Use:   "complete-element <article-id>",
		Short: "Finish the current workflow element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.CompleteElement(ctx, engine.CompleteElementRequest{
					ArticleID:    args[0],
					Element:      element,
					HandshakeURL: handshake,
					ActorID:      actor(),
					SwitchStage:  switchStage,
				})
				if err != nil {
					return err
				}
				if res.Degraded {
					rt.Logger.Warn("workflow misconfigured, falling back", "url", res.Step.URL)
				}
				warnHandlers(rt, res.Report.Err())
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&element, "element", "", "completed element (defaults to the current one)")
	cmd.Flags().StringVar(&handshake, "handshake-url", "", "identify the element by its handshake URL")
	cmd.Flags().BoolVar(&switchStage, "switch-stage", false, "move the article into the next element's stage")
	return cmd
}

func articleReentryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reentry <article-id>",
		Short: "Where work on the article resumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				url, err := rt.Engine.ReentryURL(ctx, args[0])
				degraded := errors.Is(err, workflow.ErrMisconfigured)
				if err != nil && !degraded {
					return err
				}
				if degraded {
					rt.Logger.Warn("workflow misconfigured, falling back", "article", args[0], "error", err)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"url": url, "degraded": degraded})
				}
				fmt.Println(url)
				return nil
			})
		},
	}
}

func articleDOICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doi <article-id>",
		Short: "Show DOI registration status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				id, err := rt.Engine.Repo.GetIdentifier(ctx, args[0], identifiers.KindDOI)
				if err != nil {
					return err
				}
				return printJSONOrTable(id)
			})
		},
	}
}

func printTransition(rt *app.Runtime, res engine.TransitionResult, err error) error {
	if err != nil {
		return err
	}
	warnHandlers(rt, res.Report.Err())
	if !res.Changed {
		rt.Logger.Info("article already in stage", "article", res.Article.ID, "stage", res.Article.Stage)
	}
	return printJSONOrTable(res)
}

// warnHandlers reports subscriber failures without failing the command; the
// change itself is committed.
func warnHandlers(rt *app.Runtime, err error) {
	if err != nil {
		rt.Logger.Warn("event handlers failed", "error", err)
	}
}
