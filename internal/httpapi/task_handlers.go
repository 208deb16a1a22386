package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/workflow"
)

// TaskQueryRequest filters the task listing. Zero values match everything.
type TaskQueryRequest struct {
	Status    string `json:"status,omitempty"`     // pending, assigned, completed, verified.
	Type      string `json:"type,omitempty"`       // creative_review, policy_review, manual_approval.
	SubjectID string `json:"subject_id,omitempty"` // Creative or media buy ID.
	Limit     int    `json:"limit,omitempty"`
}

// TaskClaimRequest assigns a task to a reviewer.
type TaskClaimRequest struct {
	Assignee string `json:"assignee"`
}

// TaskCompleteRequest records the human decision.
type TaskCompleteRequest struct {
	Resolution string `json:"resolution"` // "approved" or "rejected".
	Detail     string `json:"detail,omitempty"`
}

// TaskResponse is one human task.
type TaskResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	SubjectType string     `json:"subject_type"`
	SubjectID   string     `json:"subject_id"`
	Detail      string     `json:"detail,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

func toTaskResponse(t *domain.HumanTask) TaskResponse {
	return TaskResponse{
		ID:          t.TaskID.String(),
		Type:        string(t.Type),
		Status:      string(t.Status),
		SubjectType: t.SubjectType,
		SubjectID:   t.SubjectID,
		Detail:      t.Detail,
		Assignee:    t.Assignee,
		Resolution:  t.Resolution,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		VerifiedAt:  t.VerifiedAt,
	}
}

func (g *Gateway) handleTaskList(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	tasks, err := g.wf.ListTasks(c.Context(), tenant.ID, workflow.TaskFilter{})
	if err != nil {
		return g.fail(c, err)
	}
	return c.OK(toTaskResponses(tasks))
}

func (g *Gateway) handleTaskQuery(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	var req TaskQueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	tasks, err := g.wf.ListTasks(c.Context(), tenant.ID, workflow.TaskFilter{
		Status:    domain.TaskStatus(req.Status),
		Type:      domain.TaskType(req.Type),
		SubjectID: req.SubjectID,
		Limit:     req.Limit,
	})
	if err != nil {
		return g.fail(c, err)
	}
	return c.OK(toTaskResponses(tasks))
}

func (g *Gateway) handleTaskClaim(c *okapi.Context) error {
	tenant, taskID, err := g.taskTarget(c)
	if err != nil {
		return g.fail(c, err)
	}
	var req TaskClaimRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	assignee := req.Assignee
	if assignee == "" {
		assignee = c.GetString("operator")
	}
	task, err := g.wf.ClaimTask(c.Context(), tenant.ID, taskID, assignee)
	if err != nil {
		return g.fail(c, err)
	}
	g.audit.Record(c.Context(), tenant.ID, c.GetString("operator"), "task.claim", true, map[string]any{
		"task_id": taskID.String(), "assignee": assignee,
	})
	return c.OK(toTaskResponse(task))
}

func (g *Gateway) handleTaskComplete(c *okapi.Context) error {
	tenant, taskID, err := g.taskTarget(c)
	if err != nil {
		return g.fail(c, err)
	}
	var req TaskCompleteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	task, err := g.wf.CompleteTask(c.Context(), tenant.ID, taskID, req.Resolution, req.Detail)
	if err != nil {
		return g.fail(c, err)
	}
	return c.OK(toTaskResponse(task))
}

func (g *Gateway) handleTaskVerify(c *okapi.Context) error {
	tenant, taskID, err := g.taskTarget(c)
	if err != nil {
		return g.fail(c, err)
	}
	task, err := g.wf.VerifyTask(c.Context(), tenant.ID, taskID)
	if err != nil {
		return g.fail(c, err)
	}
	g.audit.Record(c.Context(), tenant.ID, c.GetString("operator"), "task.verify", true, map[string]any{
		"task_id": taskID.String(),
	})
	return c.OK(toTaskResponse(task))
}

func (g *Gateway) taskTarget(c *okapi.Context) (*domain.Tenant, uuid.UUID, error) {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return nil, uuid.Nil, err
	}
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, uuid.Nil, errs.Validation("id", "invalid task ID")
	}
	return tenant, taskID, nil
}

func toTaskResponses(tasks []*domain.HumanTask) []TaskResponse {
	out := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}
