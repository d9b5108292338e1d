package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/task-service/internal/domain"
	"github.com/spec-kit/task-service/internal/events"
	"github.com/spec-kit/task-service/internal/repository"
	"github.com/spec-kit/task-service/internal/validate"
	apperrors "github.com/spec-kit/task-service/pkg/util"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// TaskService coordinates task CRUD with ownership enforcement.
type TaskService struct {
	tasks      repository.TaskRepository
	dispatcher events.Dispatcher
}

// TaskDependencies bundles requirements for the task service.
type TaskDependencies struct {
	TaskRepo   repository.TaskRepository
	Dispatcher events.Dispatcher
}

// TaskCreateInput describes a task creation payload.
type TaskCreateInput struct {
	Title       string
	Description string
	Status      *string
}

// TaskUpdateInput carries optional task fields for partial updates.
type TaskUpdateInput struct {
	Title       *string
	Description *string
	Status      *string
}

// TaskPage is a single page of a user's tasks.
type TaskPage struct {
	Tasks      []domain.Task
	Page       int
	Limit      int
	TotalPages int64
	TotalTasks int64
}

// NewTaskService constructs the service.
func NewTaskService(deps TaskDependencies) *TaskService {
	return &TaskService{tasks: deps.TaskRepo, dispatcher: deps.Dispatcher}
}

// List returns one page of the owner's tasks, newest first. Non-positive page
// or limit values fall back to the defaults instead of erroring.
func (s *TaskService) List(ctx context.Context, ownerID string, page, limit int) (*TaskPage, error) {
	if page <= 0 {
		page = defaultPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := (page - 1) * limit

	total, err := s.tasks.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}

	return &TaskPage{
		Tasks:      tasks,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + int64(limit) - 1) / int64(limit),
		TotalTasks: total,
	}, nil
}

// Create persists a new task owned by the caller. Status defaults to pending.
func (s *TaskService) Create(ctx context.Context, ownerID string, input TaskCreateInput) (*domain.Task, error) {
	if fieldErr := validate.First(
		validate.Required("title", input.Title, "Title is required"),
		validate.Required("description", input.Description, "Description is required"),
		validate.Optional(input.Status, statusCheck),
	); fieldErr != nil {
		return nil, apperrors.NewValidationError(fieldErr.Message)
	}

	task := &domain.Task{
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.TaskStatusPending,
		OwnerID:     ownerID,
	}
	if input.Status != nil {
		task.Status = domain.TaskStatus(*input.Status)
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:   events.EventTaskCreated,
		UserID: ownerID,
		Payload: events.TaskCreatedPayload{
			TaskID: task.ID,
			Title:  task.Title,
			Status: task.Status,
		},
	})
	return task, nil
}

// Update applies a partial update after the existence and ownership checks.
// Existence is checked first so a nonexistent id reports NotFound to every
// caller, owner or not.
func (s *TaskService) Update(ctx context.Context, taskID, ownerID string, input TaskUpdateInput) (*domain.Task, error) {
	task, err := s.getOwned(ctx, taskID, ownerID)
	if err != nil {
		return nil, err
	}

	if fieldErr := validate.First(
		validate.Optional(input.Title, func(v string) validate.Check {
			return validate.Required("title", v, "Title is required")
		}),
		validate.Optional(input.Description, func(v string) validate.Check {
			return validate.Required("description", v, "Description is required")
		}),
		validate.Optional(input.Status, statusCheck),
	); fieldErr != nil {
		return nil, apperrors.NewValidationError(fieldErr.Message)
	}

	oldStatus := task.Status
	if input.Title != nil {
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.Status != nil {
		task.Status = domain.TaskStatus(*input.Status)
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("Task")
		}
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:   events.EventTaskUpdated,
		UserID: ownerID,
		Payload: events.TaskUpdatedPayload{
			TaskID:    task.ID,
			OldStatus: oldStatus,
			NewStatus: task.Status,
		},
	})
	return task, nil
}

// Delete removes an owned task and returns its id.
func (s *TaskService) Delete(ctx context.Context, taskID, ownerID string) (string, error) {
	task, err := s.getOwned(ctx, taskID, ownerID)
	if err != nil {
		return "", err
	}

	if err := s.tasks.Delete(ctx, task.ID); err != nil {
		if err == pgx.ErrNoRows {
			return "", apperrors.NewNotFound("Task")
		}
		return "", err
	}

	s.publishEvent(ctx, events.Event{
		Type:    events.EventTaskDeleted,
		UserID:  ownerID,
		Payload: events.TaskDeletedPayload{TaskID: task.ID},
	})
	return task.ID, nil
}

func (s *TaskService) getOwned(ctx context.Context, taskID, ownerID string) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("Task")
		}
		return nil, err
	}
	if task.OwnerID != ownerID {
		return nil, apperrors.NewForbidden()
	}
	return task, nil
}

func statusCheck(v string) validate.Check {
	return validate.OneOf("status", v,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusInProgress),
		string(domain.TaskStatusCompleted),
	)
}

func (s *TaskService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
