package dto

import (
	"time"

	"github.com/spec-kit/task-service/internal/domain"
)

// CreateTaskRequest payload.
type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      *string `json:"status"`
}

// UpdateTaskRequest payload; all fields optional.
type UpdateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// TaskResponse keeps the original API's wire shape, including the owner under
// the "user" key.
type TaskResponse struct {
	ID          string            `json:"_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      domain.TaskStatus `json:"status"`
	User        string            `json:"user"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// TaskListResponse is one page of tasks with pagination metadata.
type TaskListResponse struct {
	Tasks      []TaskResponse `json:"tasks"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int64          `json:"totalPages"`
	TotalTasks int64          `json:"totalTasks"`
}

// DeleteTaskResponse acknowledges a removal.
type DeleteTaskResponse struct {
	ID string `json:"id"`
}
