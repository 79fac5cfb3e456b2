package web

import (
	"github.com/weftlabs/weft/pkg/conditions"
	"github.com/weftlabs/weft/pkg/models"
)

// CreateWorkflowRequest carries a full workflow definition. The engine
// performs the deep validation (graph acyclicity, action and trigger
// schemas); the handler only checks surface shape.
type CreateWorkflowRequest struct {
	Name            string                  `json:"name"        validate:"required,min=3,max=100"`
	Description     string                  `json:"description" validate:"max=500"`
	Status          models.WorkflowStatus   `json:"status"      validate:"omitempty,oneof=active inactive"`
	Nodes           []*models.Node          `json:"nodes"`
	Edges           []*models.Edge          `json:"edges"`
	EntryConditions *conditions.Expression  `json:"entry_conditions,omitempty"`
	Settings        models.WorkflowSettings `json:"settings"`
	Trigger         *models.TriggerConfig   `json:"trigger"     validate:"required"`
	Variables       map[string]any          `json:"variables,omitempty"`
}

func (r *CreateWorkflowRequest) toWorkflow() *models.Workflow {
	status := r.Status
	if status == "" {
		status = models.WorkflowStatusActive
	}

	return &models.Workflow{
		Name:            r.Name,
		Description:     r.Description,
		Status:          status,
		Nodes:           r.Nodes,
		Edges:           r.Edges,
		EntryConditions: r.EntryConditions,
		Settings:        r.Settings,
		Trigger:         r.Trigger,
		Variables:       r.Variables,
	}
}

// FireTriggerRequest is the body of a manual workflow trigger.
type FireTriggerRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// RunCreatedResponse acknowledges an accepted manual fire.
type RunCreatedResponse struct {
	RunID string `json:"run_id"`
}
