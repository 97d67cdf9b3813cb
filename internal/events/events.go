package events

import (
	"time"

	"journalflow/internal/domain"
	"journalflow/internal/stage"
)

// Name is the wire name of an event, used for audit rows, webhooks and relay
// subjects.
type Name string

const (
	NameStageChanged            Name = "StageChanged"
	NameArticleSubmitted        Name = "ArticleSubmitted"
	NameArticleAssigned         Name = "ArticleAssigned"
	NameArticleAccepted         Name = "ArticleAccepted"
	NameArticleDeclined         Name = "ArticleDeclined"
	NameArticleUndeclined       Name = "ArticleUndeclined"
	NameArticlePublished        Name = "ArticlePublished"
	NameWorkflowElementComplete Name = "WorkflowElementComplete"
	NameRevisionsRequested      Name = "RevisionsRequested"
	NameRevisionsComplete       Name = "RevisionsComplete"
	NameRoundOpened             Name = "RoundOpened"
	NameRoundClosed             Name = "RoundClosed"
)

// Event is implemented only by the variants in this file.
type Event interface {
	Name() Name
	ArticleID() string
	JournalID() string
	ActorID() string
	sealed()
}

// Meta carries the references every variant shares.
type Meta struct {
	Article string    `json:"article_id"`
	Journal string    `json:"journal_id"`
	Actor   string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

func (m Meta) ArticleID() string { return m.Article }
func (m Meta) JournalID() string { return m.Journal }
func (m Meta) ActorID() string   { return m.Actor }

type StageChanged struct {
	Meta
	From     stage.Stage `json:"from"`
	To       stage.Stage `json:"to"`
	Override bool        `json:"override,omitempty"`
}

func (StageChanged) Name() Name { return NameStageChanged }
func (StageChanged) sealed()    {}

type ArticleSubmitted struct{ Meta }

func (ArticleSubmitted) Name() Name { return NameArticleSubmitted }
func (ArticleSubmitted) sealed()    {}

type ArticleAssigned struct {
	Meta
	EditorID string `json:"editor_id"`
}

func (ArticleAssigned) Name() Name { return NameArticleAssigned }
func (ArticleAssigned) sealed()    {}

type ArticleAccepted struct {
	Meta
	Stage stage.Stage `json:"stage"`
}

func (ArticleAccepted) Name() Name { return NameArticleAccepted }
func (ArticleAccepted) sealed()    {}

type ArticleDeclined struct{ Meta }

func (ArticleDeclined) Name() Name { return NameArticleDeclined }
func (ArticleDeclined) sealed()    {}

type ArticleUndeclined struct{ Meta }

func (ArticleUndeclined) Name() Name { return NameArticleUndeclined }
func (ArticleUndeclined) sealed()    {}

type ArticlePublished struct{ Meta }

func (ArticlePublished) Name() Name { return NameArticlePublished }
func (ArticlePublished) sealed()    {}

// WorkflowElementComplete asks the router to hand the article to the next
// element. SwitchStage also moves the article into that element's stage.
type WorkflowElementComplete struct {
	Meta
	Element      string `json:"element"`
	HandshakeURL string `json:"handshake_url,omitempty"`
	SwitchStage  bool   `json:"switch_stage"`
}

func (WorkflowElementComplete) Name() Name { return NameWorkflowElementComplete }
func (WorkflowElementComplete) sealed()    {}

type RevisionsRequested struct {
	Meta
	DueDate string `json:"due_date,omitempty"`
	Note    string `json:"note,omitempty"`
}

func (RevisionsRequested) Name() Name { return NameRevisionsRequested }
func (RevisionsRequested) sealed()    {}

type RevisionsComplete struct{ Meta }

func (RevisionsComplete) Name() Name { return NameRevisionsComplete }
func (RevisionsComplete) sealed()    {}

type RoundOpened struct {
	Meta
	Round domain.Round `json:"round"`
}

func (RoundOpened) Name() Name { return NameRoundOpened }
func (RoundOpened) sealed()    {}

type RoundClosed struct {
	Meta
	Round domain.Round `json:"round"`
}

func (RoundClosed) Name() Name { return NameRoundClosed }
func (RoundClosed) sealed()    {}

// TaskAction is the lifecycle step a task event reports.
type TaskAction string

const (
	ActionRequested TaskAction = "requested"
	ActionAccepted  TaskAction = "accepted"
	ActionDeclined  TaskAction = "declined"
	ActionCompleted TaskAction = "completed"
	ActionWithdrawn TaskAction = "withdrawn"
	ActionReset     TaskAction = "reset"
)

var taskNames = map[domain.Family]map[TaskAction]Name{
	domain.FamilyReview: {
		ActionRequested: "ReviewerRequested",
		ActionAccepted:  "ReviewerAccepted",
		ActionDeclined:  "ReviewerDeclined",
		ActionCompleted: "ReviewerComplete",
		ActionWithdrawn: "ReviewerWithdrawn",
		ActionReset:     "ReviewerReset",
	},
	domain.FamilyCopyediting: {
		ActionRequested: "CopyeditorAssigned",
		ActionAccepted:  "CopyeditorAccepted",
		ActionDeclined:  "CopyeditorDeclined",
		ActionCompleted: "CopyeditComplete",
		ActionWithdrawn: "CopyeditorWithdrawn",
		ActionReset:     "CopyeditReopened",
	},
	domain.FamilyTypesetting: {
		ActionRequested: "TypesetterAssigned",
		ActionAccepted:  "TypesetterAccepted",
		ActionDeclined:  "TypesetterDeclined",
		ActionCompleted: "TypesetterComplete",
		ActionWithdrawn: "TypesetterCancelled",
		ActionReset:     "TypesetterReset",
	},
	domain.FamilyProofing: {
		ActionRequested: "ProofingManagerAssigned",
		ActionAccepted:  "ProofreaderAccepted",
		ActionDeclined:  "ProofreaderDeclined",
		ActionCompleted: "ProofingManagerComplete",
		ActionWithdrawn: "ProofreaderCancelled",
		ActionReset:     "ProofreaderReset",
	},
}

// TaskEventName returns the family-specific name of a task event.
func TaskEventName(family domain.Family, action TaskAction) Name {
	if byAction, ok := taskNames[family]; ok {
		if n, ok := byAction[action]; ok {
			return n
		}
	}
	return Name("Task" + string(action))
}

// taskEvent is the payload shared by all task variants.
type taskEvent struct {
	Meta
	Task domain.Task `json:"task"`
}

func (t taskEvent) name(action TaskAction) Name { return TaskEventName(t.Task.Family, action) }

type TaskRequested taskEvent

func (e TaskRequested) Name() Name { return taskEvent(e).name(ActionRequested) }
func (TaskRequested) sealed()      {}

type TaskAccepted taskEvent

func (e TaskAccepted) Name() Name { return taskEvent(e).name(ActionAccepted) }
func (TaskAccepted) sealed()      {}

type TaskDeclined taskEvent

func (e TaskDeclined) Name() Name { return taskEvent(e).name(ActionDeclined) }
func (TaskDeclined) sealed()      {}

type TaskCompleted taskEvent

func (e TaskCompleted) Name() Name { return taskEvent(e).name(ActionCompleted) }
func (TaskCompleted) sealed()      {}

// TaskWithdrawn is raised for editor withdrawals and for administrative
// withdrawals when a newer round opens or the article reaches a terminal
// stage.
type TaskWithdrawn struct {
	Meta
	Task   domain.Task `json:"task"`
	Reason string      `json:"reason,omitempty"`
}

func (e TaskWithdrawn) Name() Name { return TaskEventName(e.Task.Family, ActionWithdrawn) }
func (TaskWithdrawn) sealed()      {}

type TaskReset taskEvent

func (e TaskReset) Name() Name { return taskEvent(e).name(ActionReset) }
func (TaskReset) sealed()      {}

// Withdrawal reasons.
const (
	ReasonEditor   = "editor"
	ReasonNewRound = "new_round"
	ReasonTerminal = "terminal_stage"
)
