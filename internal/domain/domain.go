package domain

type Journal struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Article struct {
	ID                 string `json:"id"`
	JournalID          string `json:"journal_id"`
	Title              string `json:"title"`
	Stage              string `json:"stage"`
	CurrentStep        int    `json:"current_step"`
	CurrentReviewRound *int   `json:"current_review_round,omitempty"`
	CreatedAt          string `json:"created_at" format:"date-time"`
	UpdatedAt          string `json:"updated_at" format:"date-time"`
}

// StageTransition is one row of the append-only stage log.
type StageTransition struct {
	ID        int64  `json:"id"`
	ArticleID string `json:"article_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	ActorID   string `json:"actor_id"`
	Override  bool   `json:"override"`
	At        string `json:"at" format:"date-time"`
}

type WorkflowElement struct {
	ID           string `json:"id"`
	JournalID    string `json:"journal_id"`
	ElementName  string `json:"element_name"`
	Stage        string `json:"stage"`
	HandshakeURL string `json:"handshake_url"`
	JumpURL      string `json:"jump_url"`
	Order        int    `json:"order"`
}

// Family identifies one round/task lifecycle: review, copyediting,
// typesetting or proofing.
type Family string

const (
	FamilyReview      Family = "review"
	FamilyCopyediting Family = "copyediting"
	FamilyTypesetting Family = "typesetting"
	FamilyProofing    Family = "proofing"
)

// Families lists every known family.
func Families() []Family {
	return []Family{FamilyReview, FamilyCopyediting, FamilyTypesetting, FamilyProofing}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyReview, FamilyCopyediting, FamilyTypesetting, FamilyProofing:
		return true
	}
	return false
}

// Role is the label for the actor who owns tasks of this family.
func (f Family) Role() string {
	switch f {
	case FamilyReview:
		return "reviewer"
	case FamilyCopyediting:
		return "copyeditor"
	case FamilyTypesetting:
		return "typesetter"
	case FamilyProofing:
		return "proofreader"
	}
	return "actor"
}

type Round struct {
	ID          string  `json:"id"`
	ArticleID   string  `json:"article_id"`
	Family      Family  `json:"family" enum:"review,copyediting,typesetting,proofing"`
	RoundNumber int     `json:"round_number"`
	OpenedBy    string  `json:"opened_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ClosedAt    *string `json:"closed_at,omitempty" format:"date-time"`
}

const (
	DecisionAccept           = "accept"
	DecisionMinorRevisions   = "minor_revisions"
	DecisionMajorRevisions   = "major_revisions"
	DecisionReject           = "reject"
	DecisionNoRecommendation = "no_recommendation"
	DecisionWithdrawn        = "withdrawn"
)

// ReviewDecisions are the decisions a reviewer may record on completion.
var ReviewDecisions = []string{
	DecisionAccept,
	DecisionMinorRevisions,
	DecisionMajorRevisions,
	DecisionReject,
	DecisionNoRecommendation,
}

// TaskStatus is derived from the lifecycle timestamps, never stored.
type TaskStatus string

const (
	TaskRequested TaskStatus = "requested"
	TaskAccepted  TaskStatus = "accepted"
	TaskDeclined  TaskStatus = "declined"
	TaskCompleted TaskStatus = "completed"
	TaskWithdrawn TaskStatus = "withdrawn"
)

type Task struct {
	ID          string     `json:"id"`
	RoundID     string     `json:"round_id"`
	ArticleID   string     `json:"article_id"`
	Family      Family     `json:"family"`
	ActorID     string     `json:"actor_id"`
	EditorID    string     `json:"editor_id"`
	Status      TaskStatus `json:"status" enum:"requested,accepted,declined,completed,withdrawn"`
	RequestedAt string     `json:"requested_at" format:"date-time"`
	AcceptedAt  *string    `json:"accepted_at,omitempty" format:"date-time"`
	DeclinedAt  *string    `json:"declined_at,omitempty" format:"date-time"`
	CompletedAt *string    `json:"completed_at,omitempty" format:"date-time"`
	WithdrawnAt *string    `json:"withdrawn_at,omitempty" format:"date-time"`
	DueDate     *string    `json:"due_date,omitempty" format:"date"`
	Decision    string     `json:"decision,omitempty"`
	Note        string     `json:"note,omitempty"`
	Files       []string   `json:"files,omitempty"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// DeriveStatus computes the task's lifecycle status from its timestamps.
func (t Task) DeriveStatus() TaskStatus {
	switch {
	case t.WithdrawnAt != nil:
		return TaskWithdrawn
	case t.DeclinedAt != nil:
		return TaskDeclined
	case t.CompletedAt != nil:
		return TaskCompleted
	case t.AcceptedAt != nil:
		return TaskAccepted
	}
	return TaskRequested
}

// Terminal reports whether the task has been declined, completed or withdrawn.
func (t Task) Terminal() bool {
	switch t.DeriveStatus() {
	case TaskDeclined, TaskCompleted, TaskWithdrawn:
		return true
	}
	return false
}

// Event is one row of the audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JournalID  string `json:"journal_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
