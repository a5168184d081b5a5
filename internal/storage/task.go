package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskcal-go/internal/provider"
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a single to-do item owned by one user.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"-"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	DueTime      string     `json:"due_time,omitempty"`
	Priority     Priority   `json:"priority"`
	Category     string     `json:"category,omitempty"`
	Completed    bool       `json:"completed"`
	ReminderSent bool       `json:"reminder_sent"`

	// Remote event references, one per provider. Empty means no event.
	GoogleEventID  string `json:"google_event_id,omitempty"`
	OutlookEventID string `json:"outlook_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EventID returns the remote event reference the task holds for p.
func (t *Task) EventID(p provider.Provider) string {
	switch p {
	case provider.Google:
		return t.GoogleEventID
	case provider.Outlook:
		return t.OutlookEventID
	}
	return ""
}

// Overdue reports whether the task is open and past its due date at now.
func (t *Task) Overdue(now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

// TaskUpdate is a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	ClearDueDate bool
	DueTime      *string
	Priority     *Priority
	Category     *string
	ReminderSent *bool
}

func eventColumn(p provider.Provider) (string, error) {
	switch p {
	case provider.Google:
		return "google_event_id", nil
	case provider.Outlook:
		return "outlook_event_id", nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, p)
}

func validateTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("%w: task cannot be nil", ErrInvalidInput)
	}
	if task.UserID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(task.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}
	if !task.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalidInput, task.Priority)
	}
	return nil
}

const taskColumns = `id, user_id, title, description, due_date, due_time, priority,
	category, completed, reminder_sent, google_event_id, outlook_event_id, created_at`

// CreateTask inserts a new task. A missing ID, priority or creation time is filled in.
func (s *SQLiteStorage) CreateTask(ctx context.Context, task *Task) error {
	if task != nil {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.Priority == "" {
			task.Priority = PriorityMedium
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now()
		}
	}
	if err := validateTask(task); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Title, task.Description, nullableMillis(task.DueDate),
		task.DueTime, string(task.Priority), task.Category, task.Completed, task.ReminderSent,
		task.GoogleEventID, task.OutlookEventID, task.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask returns the task with the given ID owned by userID.
func (s *SQLiteStorage) GetTask(ctx context.Context, userID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns every task of userID, newest first.
func (s *SQLiteStorage) ListTasks(ctx context.Context, userID string) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID)
}

// ListOverdueTasks returns the open tasks of userID whose due date is before now,
// earliest due first.
func (s *SQLiteStorage) ListOverdueTasks(ctx context.Context, userID string, now time.Time) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND completed = 0 AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date ASC`,
		userID, now.UnixMilli())
}

// UpdateTask applies a partial update and returns the updated task.
func (s *SQLiteStorage) UpdateTask(ctx context.Context, userID, id string, upd TaskUpdate) (*Task, error) {
	task, err := s.GetTask(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		task.Title = *upd.Title
	}
	if upd.Description != nil {
		task.Description = *upd.Description
	}
	if upd.ClearDueDate {
		task.DueDate = nil
	} else if upd.DueDate != nil {
		due := *upd.DueDate
		task.DueDate = &due
	}
	if upd.DueTime != nil {
		task.DueTime = *upd.DueTime
	}
	if upd.Priority != nil {
		task.Priority = *upd.Priority
	}
	if upd.Category != nil {
		task.Category = *upd.Category
	}
	if upd.ReminderSent != nil {
		task.ReminderSent = *upd.ReminderSent
	}
	if err := validateTask(task); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, due_date = ?, due_time = ?,
			priority = ?, category = ?, reminder_sent = ?
		WHERE id = ? AND user_id = ?`,
		task.Title, task.Description, nullableMillis(task.DueDate), task.DueTime,
		string(task.Priority), task.Category, task.ReminderSent, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// ToggleTask flips the completed flag and returns the updated task.
func (s *SQLiteStorage) ToggleTask(ctx context.Context, userID, id string) (*Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1 - completed WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return s.GetTask(ctx, userID, id)
}

// DeleteTask removes a task.
func (s *SQLiteStorage) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return nil
}

// SetTaskEventID replaces the task's event reference for p with next, but only
// if it still equals expected. ErrConflict is returned when another writer got
// there first.
func (s *SQLiteStorage) SetTaskEventID(ctx context.Context, userID, id string, p provider.Provider, expected, next string) error {
	column, err := eventColumn(p)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+column+` = ? WHERE id = ? AND user_id = ? AND `+column+` = ?`,
		next, id, userID, expected)
	if err != nil {
		return fmt.Errorf("failed to set event id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetTask(ctx, userID, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s event of task %s changed", ErrConflict, p, id)
}

func (s *SQLiteStorage) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(sc scanner) (*Task, error) {
	var (
		task      Task
		priority  string
		dueDate   sql.NullInt64
		createdAt int64
	)
	if err := sc.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &dueDate, &task.DueTime,
		&priority, &task.Category, &task.Completed, &task.ReminderSent,
		&task.GoogleEventID, &task.OutlookEventID, &createdAt,
	); err != nil {
		return nil, err
	}
	task.Priority = Priority(priority)
	if dueDate.Valid {
		due := time.UnixMilli(dueDate.Int64)
		task.DueDate = &due
	}
	task.CreatedAt = time.UnixMilli(createdAt)
	return &task, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
