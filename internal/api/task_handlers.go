package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/scheduler"
)

func (s *Server) registerTaskRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listTasks",
		Method:      http.MethodGet,
		Path:        "/api/v1/tasks",
		Summary:     "List scheduler tasks",
		Description: "Returns fetch and aggregate tasks, newest first. status=failed selects every failed task.",
		Tags:        []string{"Tasks"},
	}, s.handleListTasks)
}

// === DTOs ===

// ListTasksInput contains parameters for listing tasks.
type ListTasksInput struct {
	Status string `query:"status" maxLength:"200" doc:"Comma-separated statuses, or 'failed'"`
	Chart  string `query:"chart" maxLength:"32" doc:"Only tasks for this chart slug"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" default:"100" doc:"Max tasks returned"`
}

// ListTasksResponse contains matching tasks.
type ListTasksResponse struct {
	Tasks []*domain.FetchTask `json:"tasks" doc:"Matching tasks"`
}

// ListTasksOutput wraps the task list for Huma.
type ListTasksOutput struct {
	Body ListTasksResponse
}

// === Handlers ===

func (s *Server) handleListTasks(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	var statuses []domain.TaskStatus
	if input.Status != "" {
		var err error
		statuses, err = scheduler.ParseStatuses([]string{input.Status})
		if err != nil {
			return nil, err
		}
	}

	tasks, err := s.services.Scheduler.Tasks(ctx, statuses, input.Chart, input.Limit)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*domain.FetchTask{}
	}
	return &ListTasksOutput{Body: ListTasksResponse{Tasks: tasks}}, nil
}
