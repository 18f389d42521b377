// internal/services/task_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"clientray/internal/models"
	"clientray/internal/recurrence"
	"clientray/internal/repositories"
)

// TaskService defines the interface for task-related business logic.
type TaskService interface {
	Create(ctx context.Context, task *models.Task) (*models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	GetAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Update(ctx context.Context, id int64, updateData *models.Task) (*models.Task, error)
	Delete(ctx context.Context, id int64) error

	// StopRecurrence is the administrative "stop generating" action: it
	// clears the template's next-occurrence pointer, which the
	// materializer observes as "no longer due". It never restarts on its
	// own.
	StopRecurrence(ctx context.Context, id int64) (*models.Task, error)
}

type taskService struct {
	repo repositories.TaskRepository
}

// NewTaskService creates a new instance of TaskService.
func NewTaskService(repo repositories.TaskRepository) TaskService {
	return &taskService{repo: repo}
}

func (s *taskService) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Status == "" {
		task.Status = models.StatusNew
	}
	if task.Priority == "" {
		task.Priority = models.PriorityNormal
	}

	if task.IsRecurring {
		if !recurrence.Valid(task.RecurrencePattern) {
			return nil, fmt.Errorf("unknown recurrence pattern %q", task.RecurrencePattern)
		}
		if task.RecurrenceInterval < 1 {
			task.RecurrenceInterval = 1
		}
		// The first occurrence pending generation is the task's own
		// deadline unless the caller picked another starting point.
		if task.NextOccurrence == nil {
			task.NextOccurrence = task.DueDate
		}
		if task.NextOccurrence == nil {
			return nil, fmt.Errorf("recurring task needs a due date or next occurrence")
		}
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.repo.Store(ctx, task); err != nil {
		return nil, err
	}
	if len(task.ExtraAssigneeIDs) > 0 {
		if err := s.repo.ReplaceExtraAssignees(ctx, task.ID, task.ExtraAssigneeIDs, task.CreatorID); err != nil {
			return nil, err
		}
	}
	return task, nil
}

func (s *taskService) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *taskService) GetAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	return s.repo.FindAll(ctx, filter)
}

func (s *taskService) Update(ctx context.Context, id int64, updateData *models.Task) (*models.Task, error) {
	existingTask, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existingTask == nil {
		return nil, nil
	}

	existingTask.AssigneeID = updateData.AssigneeID
	existingTask.Title = updateData.Title
	existingTask.Description = updateData.Description
	existingTask.DueDate = updateData.DueDate
	existingTask.Priority = updateData.Priority
	existingTask.Status = updateData.Status
	existingTask.RecurrenceEndDate = updateData.RecurrenceEndDate

	existingTask.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, existingTask); err != nil {
		return nil, err
	}
	return existingTask, nil
}

func (s *taskService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *taskService) StopRecurrence(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.IsRecurring {
		return nil, fmt.Errorf("task %d is not recurring", id)
	}
	if err := s.repo.StopRecurrence(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}
