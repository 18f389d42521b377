package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientray/internal/models"
	"clientray/internal/recurrence"
	"clientray/internal/repositories"
)

// fakeTaskStore is an in-memory TaskRepository with transaction semantics:
// Materialize snapshots state and restores it when the callback errors.
type fakeTaskStore struct {
	mu     sync.Mutex
	tasks  map[int64]*models.Task
	extras map[int64][]int64          // template id -> extra assignee user ids
	links  map[int64][]assigneeLink   // task id -> created links
	nextID int64

	failInsertFor map[int64]bool // parent template id -> fail InsertInstance
}

type assigneeLink struct {
	userID     int64
	assignedBy int64
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:         map[int64]*models.Task{},
		extras:        map[int64][]int64{},
		links:         map[int64][]assigneeLink{},
		nextID:        100,
		failInsertFor: map[int64]bool{},
	}
}

func (f *fakeTaskStore) add(t models.Task) *models.Task {
	f.nextID++
	t.ID = f.nextID
	f.tasks[t.ID] = &t
	return &t
}

func (f *fakeTaskStore) Store(ctx context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task.ID = f.nextID
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTaskStore) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTaskStore) Update(ctx context.Context, task *models.Task) error { return nil }
func (f *fakeTaskStore) Delete(ctx context.Context, id int64) error          { return nil }

func (f *fakeTaskStore) ReplaceExtraAssignees(ctx context.Context, taskID int64, userIDs []int64, assignedBy int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extras[taskID] = append([]int64(nil), userIDs...)
	return nil
}

func (f *fakeTaskStore) StopRecurrence(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.NextOccurrence = nil
	}
	return nil
}

func (f *fakeTaskStore) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if !t.IsRecurring || t.Status == models.StatusCancelled {
			continue
		}
		if t.NextOccurrence == nil || t.NextOccurrence.After(now) {
			continue
		}
		if t.RecurrenceEndDate != nil && !t.RecurrenceEndDate.After(now) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTaskStore) Materialize(ctx context.Context, fn func(tx repositories.MaterializeTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapTasks := map[int64]*models.Task{}
	for id, t := range f.tasks {
		cp := *t
		snapTasks[id] = &cp
	}
	snapLinks := map[int64][]assigneeLink{}
	for id, l := range f.links {
		snapLinks[id] = append([]assigneeLink(nil), l...)
	}
	snapNextID := f.nextID

	if err := fn(&fakeTx{store: f}); err != nil {
		f.tasks = snapTasks
		f.links = snapLinks
		f.nextID = snapNextID
		return err
	}
	return nil
}

type fakeTx struct {
	store *fakeTaskStore
}

func (tx *fakeTx) LockTemplate(ctx context.Context, id int64) (*models.Task, error) {
	t, ok := tx.store.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (tx *fakeTx) ExtraAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	return append([]int64(nil), tx.store.extras[taskID]...), nil
}

func (tx *fakeTx) InsertInstance(ctx context.Context, task *models.Task) error {
	if task.ParentRecurringTaskID != nil && tx.store.failInsertFor[*task.ParentRecurringTaskID] {
		return errors.New("insert failed")
	}
	tx.store.nextID++
	task.ID = tx.store.nextID
	cp := *task
	tx.store.tasks[task.ID] = &cp
	return nil
}

func (tx *fakeTx) InsertAssigneeLink(ctx context.Context, taskID, userID, assignedBy int64) error {
	tx.store.links[taskID] = append(tx.store.links[taskID], assigneeLink{userID: userID, assignedBy: assignedBy})
	return nil
}

func (tx *fakeTx) SetNextOccurrence(ctx context.Context, id int64, next *time.Time) error {
	t, ok := tx.store.tasks[id]
	if !ok {
		return errors.New("template gone")
	}
	if next == nil {
		t.NextOccurrence = nil
	} else {
		cp := *next
		t.NextOccurrence = &cp
	}
	return nil
}

type mentionCall struct {
	taskID    int64
	userIDs   []int64
	byUserID  int64
	notifType string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []mentionCall
}

func (n *fakeNotifier) NotifyAssignment(taskID int64, userIDs []int64, byUserID int64, notifType string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, mentionCall{
		taskID:    taskID,
		userIDs:   append([]int64(nil), userIDs...),
		byUserID:  byUserID,
		notifType: notifType,
	})
}

func ts(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func template(due time.Time, pattern string, interval int) models.Task {
	return models.Task{
		CreatorID:          1,
		AssigneeID:         2,
		Title:              "Weekly report",
		Priority:           models.PriorityNormal,
		Status:             models.StatusNew,
		IsRecurring:        true,
		RecurrencePattern:  pattern,
		RecurrenceInterval: interval,
		NextOccurrence:     &due,
	}
}

// instancesOf returns the generated instances of a template.
func instancesOf(store *fakeTaskStore, templateID int64) []*models.Task {
	var out []*models.Task
	for _, t := range store.tasks {
		if t.ParentRecurringTaskID != nil && *t.ParentRecurringTaskID == templateID {
			out = append(out, t)
		}
	}
	return out
}

func TestRunOnceGeneratesDueInstance(t *testing.T) {
	store := newFakeTaskStore()
	notifier := &fakeNotifier{}
	svc := NewRecurrenceService(store, notifier)

	due := time.Now().Add(-time.Hour).Truncate(time.Second)
	tmpl := store.add(template(due, recurrence.PatternDaily, 1))

	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, generated)

	instances := instancesOf(store, tmpl.ID)
	require.Len(t, instances, 1)
	inst := instances[0]

	// The instance carries the deadline that was actually due, not the
	// advanced one, and is itself not recurring.
	require.NotNil(t, inst.DueDate)
	assert.True(t, inst.DueDate.Equal(due))
	assert.False(t, inst.IsRecurring)
	assert.Empty(t, inst.RecurrencePattern)
	assert.Nil(t, inst.NextOccurrence)
	assert.Equal(t, models.StatusNew, inst.Status)
	assert.Equal(t, tmpl.CreatorID, inst.CreatorID)
	assert.Equal(t, tmpl.AssigneeID, inst.AssigneeID)

	// Pointer advanced by one day.
	got := store.tasks[tmpl.ID].NextOccurrence
	require.NotNil(t, got)
	assert.True(t, got.Equal(due.AddDate(0, 0, 1)))
}

func TestRunOnceIsIdempotentPerDueDate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	due := time.Now().Add(-time.Hour)
	tmpl := store.add(template(due, recurrence.PatternWeekly, 1))

	first, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	assert.Len(t, instancesOf(store, tmpl.ID), 1)
}

func TestSeriesEndsWhenFollowingPassesEndDate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	// Due yesterday, series ends in three days, next weekly occurrence
	// would land past the end: the due instance is created, the series
	// stops.
	due := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(72 * time.Hour)
	tm := template(due, recurrence.PatternWeekly, 1)
	tm.RecurrenceEndDate = &end
	tmpl := store.add(tm)

	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, generated)

	assert.Len(t, instancesOf(store, tmpl.ID), 1)
	assert.Nil(t, store.tasks[tmpl.ID].NextOccurrence)
}

func TestNoInstanceWhenDueDateAlreadyPastEndDate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	// Pointer somehow crept past the end of the series: no instance at
	// all, the pointer is simply cleared.
	end := time.Now().Add(-48 * time.Hour)
	due := end.Add(24 * time.Hour)
	tm := template(due, recurrence.PatternDaily, 1)
	tm.RecurrenceEndDate = &end
	tmpl := store.add(tm)

	created, err := svc.GenerateForTask(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Empty(t, instancesOf(store, tmpl.ID))
	assert.Nil(t, store.tasks[tmpl.ID].NextOccurrence)
}

func TestUnknownPatternHaltsSeries(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	due := time.Now().Add(-time.Hour)
	tmpl := store.add(template(due, "fortnightly", 1))

	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	// The current due occurrence is still materialized; only the series
	// stops afterwards.
	assert.Equal(t, 1, generated)
	assert.Len(t, instancesOf(store, tmpl.ID), 1)
	assert.Nil(t, store.tasks[tmpl.ID].NextOccurrence)

	again, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestAssigneeFanOut(t *testing.T) {
	store := newFakeTaskStore()
	notifier := &fakeNotifier{}
	svc := NewRecurrenceService(store, notifier)

	due := time.Now().Add(-time.Hour)
	tmpl := store.add(template(due, recurrence.PatternMonthly, 1))
	// Creator (1) is among the three extra assignees.
	store.extras[tmpl.ID] = []int64{1, 7, 9}

	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, generated)

	instances := instancesOf(store, tmpl.ID)
	require.Len(t, instances, 1)
	inst := instances[0]

	// All three links are copied, attributed to the template's creator.
	links := store.links[inst.ID]
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, tmpl.CreatorID, l.assignedBy)
	}

	// The creator does not get mentioned about their own template.
	require.Len(t, notifier.calls, 1)
	call := notifier.calls[0]
	assert.Equal(t, inst.ID, call.taskID)
	assert.ElementsMatch(t, []int64{7, 9}, call.userIDs)
	assert.Equal(t, tmpl.CreatorID, call.byUserID)
	assert.Equal(t, NotificationTypeRecurringAssignment, call.notifType)
}

func TestFailureOnOneTemplateDoesNotStopBatch(t *testing.T) {
	store := newFakeTaskStore()
	notifier := &fakeNotifier{}
	svc := NewRecurrenceService(store, notifier)

	due := time.Now().Add(-time.Hour)
	bad := store.add(template(due, recurrence.PatternDaily, 1))
	good := store.add(template(due, recurrence.PatternDaily, 1))
	store.failInsertFor[bad.ID] = true

	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, generated)

	// The failed template rolled back completely: no instance, pointer
	// untouched, still due for the next run. No notification either.
	assert.Empty(t, instancesOf(store, bad.ID))
	require.NotNil(t, store.tasks[bad.ID].NextOccurrence)
	assert.True(t, store.tasks[bad.ID].NextOccurrence.Equal(due))
	assert.Empty(t, notifier.calls)

	assert.Len(t, instancesOf(store, good.ID), 1)
}

func TestGenerateForTaskSkipsNotDueTemplate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	// Due re-check under the lock: a pointer in the future means a
	// concurrent run already advanced it.
	due := time.Now().Add(time.Hour)
	tmpl := store.add(template(due, recurrence.PatternDaily, 1))

	created, err := svc.GenerateForTask(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, instancesOf(store, tmpl.ID))
}

func TestGenerateForTaskSkipsCancelledTemplate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	due := time.Now().Add(-time.Hour)
	tm := template(due, recurrence.PatternDaily, 1)
	tm.Status = models.StatusCancelled
	tmpl := store.add(tm)

	created, err := svc.GenerateForTask(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, instancesOf(store, tmpl.ID))

	// The batch selection skips it too.
	generated, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, generated)
}

func TestGenerateForTaskFallsBackToDueDate(t *testing.T) {
	store := newFakeTaskStore()
	svc := NewRecurrenceService(store, &fakeNotifier{})

	// Defensive path: NextOccurrence missing, DueDate used as the anchor.
	deadline := ts(2024, time.March, 1)
	tm := template(deadline, recurrence.PatternDaily, 1)
	tm.NextOccurrence = nil
	tm.DueDate = &deadline
	tmpl := store.add(tm)

	created, err := svc.GenerateForTask(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.True(t, created)

	instances := instancesOf(store, tmpl.ID)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].DueDate.Equal(deadline))
}
