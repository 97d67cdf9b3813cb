package engine

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/google/uuid"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

type TaskResult struct {
	Task   domain.Task   `json:"task"`
	Report events.Report `json:"-"`
}

type CreateTaskRequest struct {
	RoundID  string
	ActorID  string
	EditorID string
	// DueDate is YYYY-MM-DD; empty uses the family's default due days.
	DueDate string
	Files   []string
}

// CreateTask requests work from an actor in an open round. A review request
// moves an article that is not yet under review into review.
func (e Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (TaskResult, error) {
	if req.ActorID == "" {
		return TaskResult{}, invalid("actor_id", "is required")
	}
	if req.EditorID == "" {
		return TaskResult{}, invalid("editor_id", "is required")
	}
	if req.DueDate != "" {
		if _, err := time.Parse(time.DateOnly, req.DueDate); err != nil {
			return TaskResult{}, invalid("due_date", "must be YYYY-MM-DD")
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskResult{}, err
	}
	defer tx.Rollback()

	rd, err := e.Repo.GetRound(ctx, tx, req.RoundID)
	if err != nil {
		return TaskResult{}, notFound("round", req.RoundID, err)
	}
	if rd.ClosedAt != nil {
		return TaskResult{}, conflict("create task", "round %d is closed", rd.RoundNumber)
	}
	a, err := e.loadArticle(ctx, tx, rd.ArticleID)
	if err != nil {
		return TaskResult{}, err
	}
	dup, err := e.Repo.HasOpenTask(ctx, tx, rd.ID, req.ActorID, "")
	if err != nil {
		return TaskResult{}, err
	}
	if dup {
		return TaskResult{}, conflict("create task", "%s %s already has an open task in round %d", rd.Family.Role(), req.ActorID, rd.RoundNumber)
	}

	now := e.stamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		RoundID:     rd.ID,
		ArticleID:   rd.ArticleID,
		Family:      rd.Family,
		ActorID:     req.ActorID,
		EditorID:    req.EditorID,
		RequestedAt: now,
		DueDate:     optionalString(req.DueDate),
		Files:       req.Files,
		UpdatedAt:   now,
	}
	if t.DueDate == nil {
		if days := e.Config.Policy(string(rd.Family)).DefaultDueDays; days > 0 {
			due := e.now().UTC().AddDate(0, 0, days).Format(time.DateOnly)
			t.DueDate = &due
		}
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return TaskResult{}, err
	}
	t.Status = t.DeriveStatus()

	var pending []events.Event
	if rd.Family == domain.FamilyReview {
		switch stage.Stage(a.Stage) {
		case stage.Unassigned, stage.Assigned:
			moved, err := e.applyMove(ctx, tx, a, move{op: "create task", to: stage.UnderReview, actorID: req.EditorID})
			if err != nil {
				return TaskResult{}, err
			}
			a = moved.article
			pending = append(pending, moved.pending...)
		}
	}
	requested := events.TaskRequested{Meta: e.meta(a, req.EditorID), Task: t}
	if err := e.audit().AppendEvent(ctx, tx, "task", t.ID, requested); err != nil {
		return TaskResult{}, err
	}
	pending = append(pending, requested)
	if err := tx.Commit(); err != nil {
		return TaskResult{}, err
	}
	e.logger().Info("task requested", "task", t.ID, "article", t.ArticleID, "family", t.Family, "actor", t.ActorID)
	return TaskResult{Task: t, Report: e.raise(ctx, pending...)}, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, nil, id)
	if err != nil {
		return t, notFound("task", id, err)
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Family != "" && !f.Family.Valid() {
		return nil, invalid("family", "unknown family %q", f.Family)
	}
	return e.Repo.ListTasks(ctx, nil, f)
}

// taskStep is one conditional task update plus the event it raises.
type taskStep struct {
	op     string
	update func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error)
	event  func(m events.Meta, t domain.Task) events.Event
	// check runs before the update and may reject the request.
	check func(ctx context.Context, tx *sql.Tx, t domain.Task, rd domain.Round) error
}

// mutateTask applies one step to a single task row. Only the task row is
// written; the article and its other tasks are not locked.
func (e Engine) mutateTask(ctx context.Context, taskID, actorID string, step taskStep) (TaskResult, error) {
	if err := requireActor(actorID); err != nil {
		return TaskResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskResult{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return TaskResult{}, notFound("task", taskID, err)
	}
	if step.check != nil {
		rd, err := e.Repo.GetRound(ctx, tx, t.RoundID)
		if err != nil {
			return TaskResult{}, err
		}
		if err := step.check(ctx, tx, t, rd); err != nil {
			return TaskResult{}, err
		}
	}
	ok, err := step.update(ctx, tx, t, e.stamp())
	if err != nil {
		return TaskResult{}, err
	}
	if !ok {
		return TaskResult{}, conflict(step.op, "task %s is %s", t.ID, t.Status)
	}
	t, err = e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return TaskResult{}, err
	}
	a, err := e.loadArticle(ctx, tx, t.ArticleID)
	if err != nil {
		return TaskResult{}, err
	}
	ev := step.event(e.meta(a, actorID), t)
	if ev != nil {
		if err := e.audit().AppendEvent(ctx, tx, "task", t.ID, ev); err != nil {
			return TaskResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return TaskResult{}, err
	}
	e.logger().Info("task updated", "op", step.op, "task", t.ID, "status", t.Status, "actor", actorID)
	res := TaskResult{Task: t}
	if ev != nil {
		res.Report = e.raise(ctx, ev)
	}
	return res, nil
}

// AcceptTask records that the actor agreed to do the work.
func (e Engine) AcceptTask(ctx context.Context, taskID, actorID string) (TaskResult, error) {
	return e.mutateTask(ctx, taskID, actorID, taskStep{
		op: "accept task",
		update: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error) {
			return e.Repo.MarkTaskAccepted(ctx, tx, t.ID, now)
		},
		event: func(m events.Meta, t domain.Task) events.Event { return events.TaskAccepted{Meta: m, Task: t} },
	})
}

// DeclineTask terminates a requested task without a decision.
func (e Engine) DeclineTask(ctx context.Context, taskID, actorID string) (TaskResult, error) {
	return e.mutateTask(ctx, taskID, actorID, taskStep{
		op: "decline task",
		update: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error) {
			return e.Repo.MarkTaskDeclined(ctx, tx, t.ID, now)
		},
		event: func(m events.Meta, t domain.Task) events.Event { return events.TaskDeclined{Meta: m, Task: t} },
	})
}

type CompleteTaskRequest struct {
	TaskID   string
	ActorID  string
	Decision string
	Note     string
	Files    []string
	// Partial saves progress without completing the task.
	Partial bool
}

// CompleteTask finishes an accepted task. Partial saves are allowed only
// when the family's policy permits them and raise no event.
func (e Engine) CompleteTask(ctx context.Context, req CompleteTaskRequest) (TaskResult, error) {
	return e.mutateTask(ctx, req.TaskID, req.ActorID, taskStep{
		op: "complete task",
		check: func(_ context.Context, _ *sql.Tx, t domain.Task, _ domain.Round) error {
			if req.Partial && !e.Config.Policy(string(t.Family)).AllowSaveProgress {
				return conflict("complete task", "%s tasks cannot save progress", t.Family)
			}
			if req.Decision != "" && t.Family != domain.FamilyReview {
				return invalid("decision", "only review tasks record a decision")
			}
			if req.Decision != "" && !slices.Contains(domain.ReviewDecisions, req.Decision) {
				return invalid("decision", "unknown decision %q", req.Decision)
			}
			if !req.Partial && t.Family == domain.FamilyReview && req.Decision == "" && t.Decision == "" {
				return invalid("decision", "is required to complete a review")
			}
			return nil
		},
		update: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error) {
			return e.Repo.MarkTaskCompleted(ctx, tx, t.ID, repo.TaskCompletion{
				Decision: req.Decision,
				Note:     req.Note,
				Files:    req.Files,
				Partial:  req.Partial,
				Now:      now,
			})
		},
		event: func(m events.Meta, t domain.Task) events.Event {
			if req.Partial {
				return nil
			}
			return events.TaskCompleted{Meta: m, Task: t}
		},
	})
}

// WithdrawTask is the editor's forced termination of an open task.
func (e Engine) WithdrawTask(ctx context.Context, taskID, actorID string) (TaskResult, error) {
	return e.mutateTask(ctx, taskID, actorID, taskStep{
		op: "withdraw task",
		update: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error) {
			return e.Repo.MarkTaskWithdrawn(ctx, tx, t.ID, now)
		},
		event: func(m events.Meta, t domain.Task) events.Event {
			return events.TaskWithdrawn{Meta: m, Task: t, Reason: events.ReasonEditor}
		},
	})
}

// ResetTask returns a declined, completed or withdrawn task to requested,
// clearing its lifecycle timestamps and decision. Tasks in closed rounds
// cannot be reset, nor can one whose actor holds another open task in the
// round.
func (e Engine) ResetTask(ctx context.Context, taskID, actorID string) (TaskResult, error) {
	return e.mutateTask(ctx, taskID, actorID, taskStep{
		op: "reset task",
		check: func(ctx context.Context, tx *sql.Tx, t domain.Task, rd domain.Round) error {
			if rd.ClosedAt != nil {
				return conflict("reset task", "round %d is closed", rd.RoundNumber)
			}
			dup, err := e.Repo.HasOpenTask(ctx, tx, rd.ID, t.ActorID, t.ID)
			if err != nil {
				return err
			}
			if dup {
				return conflict("reset task", "%s %s already has an open task in round %d", rd.Family.Role(), t.ActorID, rd.RoundNumber)
			}
			return nil
		},
		update: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (bool, error) {
			return e.Repo.MarkTaskReset(ctx, tx, t.ID, now)
		},
		event: func(m events.Meta, t domain.Task) events.Event { return events.TaskReset{Meta: m, Task: t} },
	})
}
