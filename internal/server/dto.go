package server

import (
	"journalflow/internal/domain"
	"journalflow/internal/workflow"
)

// Request payloads

type CreateArticleRequest struct {
	Title string `json:"title" minLength:"1"`
}

type SetStepRequest struct {
	Step int `json:"step" minimum:"1" maximum:"5"`
}

type CompleteElementRequest struct {
	Element      string `json:"element,omitempty"`
	HandshakeURL string `json:"handshake_url,omitempty"`
	SwitchStage  bool   `json:"switch_stage,omitempty"`
}

type OpenRoundRequest struct {
	Family string `json:"family" enum:"review,copyediting,typesetting,proofing"`
	After  int    `json:"after" minimum:"0"`
}

type CreateTaskRequest struct {
	ActorID string   `json:"actor_id" minLength:"1"`
	DueDate string   `json:"due_date,omitempty" example:"2024-02-01"`
	Files   []string `json:"files,omitempty"`
}

type CompleteTaskRequest struct {
	Decision string   `json:"decision,omitempty"`
	Note     string   `json:"note,omitempty"`
	Files    []string `json:"files,omitempty"`
	Partial  bool     `json:"partial,omitempty"`
}

type AddElementRequest struct {
	Name  string `json:"name" minLength:"1"`
	Order int    `json:"order,omitempty"`
}

type ReorderRequest struct {
	Elements []string `json:"elements" minItems:"1"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type HandlerFailure struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

type TransitionResponse struct {
	Article       domain.Article          `json:"article"`
	Changed       bool                    `json:"changed"`
	Entry         *domain.StageTransition `json:"entry,omitempty"`
	HandlerErrors []HandlerFailure        `json:"handler_errors,omitempty"`
}

type ElementResponse struct {
	Step          workflow.Step    `json:"step"`
	Article       domain.Article   `json:"article"`
	Degraded      bool             `json:"degraded,omitempty"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type ArticleElementsResponse struct {
	Current *domain.WorkflowElement `json:"current,omitempty"`
	Next    *domain.WorkflowElement `json:"next,omitempty"`
}

type ReentryResponse struct {
	URL string `json:"url"`
	// Degraded marks the fallback URL returned for a misconfigured workflow.
	Degraded bool `json:"degraded,omitempty"`
}

type RoundResponse struct {
	Round         domain.Round     `json:"round"`
	Created       bool             `json:"created"`
	Withdrawn     []domain.Task    `json:"withdrawn,omitempty"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type TaskResponse struct {
	Task          domain.Task      `json:"task"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type listArticles struct {
	Items []domain.Article `json:"items"`
}

type listTransitions struct {
	Items []domain.StageTransition `json:"items"`
}

type listRounds struct {
	Items []domain.Round `json:"items"`
}

type listTasks struct {
	Items []domain.Task `json:"items"`
}

type listElements struct {
	Items []domain.WorkflowElement `json:"items"`
}

type boardResponse struct {
	Columns []workflow.Column `json:"columns"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
