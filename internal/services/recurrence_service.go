// internal/services/recurrence_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"clientray/internal/models"
	"clientray/internal/recurrence"
	"clientray/internal/repositories"
)

// RecurrenceService materializes due recurring-task templates: one new
// instance per due occurrence, pointer advanced in the same transaction.
type RecurrenceService interface {
	// RunOnce processes every currently due template and returns how many
	// instances were generated. A failure on one template is logged and
	// does not stop the batch.
	RunOnce(ctx context.Context) (int, error)
	// GenerateForTask runs the same per-template logic for a single
	// template, on demand. Returns whether an instance was created.
	GenerateForTask(ctx context.Context, id int64) (bool, error)
}

type recurrenceService struct {
	tasks    repositories.TaskRepository
	notifier MentionNotifier
}

func NewRecurrenceService(tasks repositories.TaskRepository, notifier MentionNotifier) RecurrenceService {
	return &recurrenceService{tasks: tasks, notifier: notifier}
}

func (s *recurrenceService) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := s.tasks.FindDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("select due recurring tasks: %w", err)
	}

	generated := 0
	for _, t := range due {
		created, err := s.generateOne(ctx, t.ID, now)
		if err != nil {
			log.Printf("[recurring][run][err] template=%d: %v", t.ID, err)
			continue
		}
		if created {
			generated++
		}
	}
	if len(due) > 0 {
		log.Printf("[recurring][run][ok] due=%d generated=%d", len(due), generated)
	}
	return generated, nil
}

func (s *recurrenceService) GenerateForTask(ctx context.Context, id int64) (bool, error) {
	return s.generateOne(ctx, id, time.Now())
}

// generateOne runs one template's generation transaction. The mention
// fan-out is dispatched only after the transaction has committed, so a
// rollback never produces notifications for an instance that does not exist.
func (s *recurrenceService) generateOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	var (
		created    bool
		instanceID int64
		mentionIDs []int64
		creatorID  int64
	)

	err := s.tasks.Materialize(ctx, func(tx repositories.MaterializeTx) error {
		tmpl, err := tx.LockTemplate(ctx, id)
		if err != nil {
			return err
		}
		// Everything below re-checks dueness under the row lock: a
		// concurrent run may have advanced or cleared the pointer while
		// we waited for it.
		if tmpl == nil || !tmpl.IsRecurring || tmpl.Status == models.StatusCancelled {
			return nil
		}
		dueDate := tmpl.NextOccurrence
		if dueDate == nil {
			dueDate = tmpl.DueDate
		}
		if dueDate == nil || dueDate.After(now) {
			return nil
		}

		following := recurrence.Next(*dueDate, tmpl.RecurrencePattern, tmpl.RecurrenceInterval)

		// The due date itself may already sit past the end of the series;
		// then the series just stops, without a final instance.
		if tmpl.RecurrenceEndDate != nil && dueDate.After(*tmpl.RecurrenceEndDate) {
			return tx.SetNextOccurrence(ctx, tmpl.ID, nil)
		}

		extras, err := tx.ExtraAssignees(ctx, tmpl.ID)
		if err != nil {
			return err
		}

		inst := instanceFromTemplate(tmpl, *dueDate, now)
		if err := tx.InsertInstance(ctx, inst); err != nil {
			return err
		}
		for _, uid := range extras {
			if err := tx.InsertAssigneeLink(ctx, inst.ID, uid, tmpl.CreatorID); err != nil {
				return err
			}
		}

		// Pointer advance is the last write. A nil following (unknown
		// pattern) or a following past the end date both terminate the
		// series.
		next := following
		if next != nil && tmpl.RecurrenceEndDate != nil && next.After(*tmpl.RecurrenceEndDate) {
			next = nil
		}
		if err := tx.SetNextOccurrence(ctx, tmpl.ID, next); err != nil {
			return err
		}

		created = true
		instanceID = inst.ID
		creatorID = tmpl.CreatorID
		for _, uid := range extras {
			if uid != tmpl.CreatorID {
				mentionIDs = append(mentionIDs, uid)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if created && len(mentionIDs) > 0 {
		s.notifier.NotifyAssignment(instanceID, mentionIDs, creatorID, NotificationTypeRecurringAssignment)
	}
	return created, nil
}

// instanceFromTemplate copies the template's descriptive, assignment and
// relationship fields onto a fresh non-recurring instance due at dueDate.
func instanceFromTemplate(tmpl *models.Task, dueDate, now time.Time) *models.Task {
	due := dueDate
	return &models.Task{
		CreatorID:             tmpl.CreatorID,
		AssigneeID:            tmpl.AssigneeID,
		LeadID:                tmpl.LeadID,
		AccountID:             tmpl.AccountID,
		ProjectID:             tmpl.ProjectID,
		Title:                 tmpl.Title,
		Description:           tmpl.Description,
		DueDate:               &due,
		Priority:              tmpl.Priority,
		Status:                models.StatusNew,
		IsRecurring:           false,
		ParentRecurringTaskID: &tmpl.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
