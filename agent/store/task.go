package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskFilter narrows List by completion state.
type TaskFilter string

const (
	TaskFilterAll       TaskFilter = "all"
	TaskFilterPending   TaskFilter = "pending"
	TaskFilterCompleted TaskFilter = "completed"
)

func (f TaskFilter) Valid() bool {
	switch f {
	case TaskFilterAll, TaskFilterPending, TaskFilterCompleted:
		return true
	}
	return false
}

type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	OwnerID     string    `bun:"owner_id,notnull" json:"-"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description *string   `bun:"description" json:"description,omitempty"`
	Completed   bool      `bun:"completed,notnull,default:false" json:"completed"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Tasks is the owner-scoped data access layer over the tasks table. Every
// query carries the owner id so isolation holds even for guessed task ids.
type Tasks struct {
	db  *bun.DB
	now func() time.Time
}

func NewTasks(db *bun.DB) *Tasks {
	return &Tasks{db: db, now: time.Now}
}

func (s *Tasks) Create(ctx context.Context, ownerID, title string, description *string) (*Task, error) {
	now := s.now().UTC()
	task := &Task{
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.db.NewInsert().Model(task).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *Tasks) List(ctx context.Context, ownerID string, filter TaskFilter) ([]Task, error) {
	q := s.db.NewSelect().
		Model((*Task)(nil)).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC", "id ASC")

	switch filter {
	case TaskFilterPending:
		q = q.Where("completed = ?", false)
	case TaskFilterCompleted:
		q = q.Where("completed = ?", true)
	}

	var tasks []Task
	if err := q.Scan(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Tasks) get(ctx context.Context, ownerID string, taskID int64) (*Task, error) {
	task := new(Task)
	err := s.db.NewSelect().
		Model(task).
		Where("id = ? AND owner_id = ?", taskID, ownerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// SetCompleted marks the task completed. Completing an already-completed task
// is a no-op success.
func (s *Tasks) SetCompleted(ctx context.Context, ownerID string, taskID int64) (*Task, error) {
	task, err := s.get(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}

	task.Completed = true
	task.UpdatedAt = s.now().UTC()
	res, err := s.db.NewUpdate().
		Model(task).
		Column("completed", "updated_at").
		Where("id = ? AND owner_id = ?", taskID, ownerID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (s *Tasks) Update(ctx context.Context, ownerID string, taskID int64, title, description *string) (*Task, error) {
	task, err := s.get(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}

	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = description
	}
	task.UpdatedAt = s.now().UTC()

	res, err := s.db.NewUpdate().
		Model(task).
		Column("title", "description", "updated_at").
		Where("id = ? AND owner_id = ?", taskID, ownerID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Delete removes the task and returns its prior state for confirmation.
func (s *Tasks) Delete(ctx context.Context, ownerID string, taskID int64) (*Task, error) {
	task, err := s.get(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}

	res, err := s.db.NewDelete().
		Model((*Task)(nil)).
		Where("id = ? AND owner_id = ?", taskID, ownerID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrTaskNotFound
	}
	return task, nil
}
