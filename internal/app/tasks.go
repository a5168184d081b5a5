package app

import (
	"net/http"
	"time"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/storage"
)

type createTaskRequest struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	DueDate     *time.Time       `json:"due_date"`
	DueTime     string           `json:"due_time" validate:"omitempty,datetime=15:04"`
	Priority    storage.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category    string           `json:"category" validate:"max=50"`
}

type updateTaskRequest struct {
	Title        *string           `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string           `json:"description" validate:"omitempty,max=2000"`
	DueDate      *time.Time        `json:"due_date"`
	ClearDueDate bool              `json:"clear_due_date"`
	DueTime      *string           `json:"due_time" validate:"omitempty,datetime=15:04"`
	Priority     *storage.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category     *string           `json:"category" validate:"omitempty,max=50"`
	ReminderSent *bool             `json:"reminder_sent"`
}

func (a *Application) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tasks, err := a.Storage.ListTasks(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, tasks)
}

func (a *Application) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tasks, err := a.Storage.ListOverdueTasks(r.Context(), userID, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, tasks)
}

func (a *Application) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req createTaskRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	task := &storage.Task{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		DueTime:     req.DueTime,
		Priority:    req.Priority,
		Category:    req.Category,
	}
	if err := a.Storage.CreateTask(r.Context(), task); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, task)
}

func (a *Application) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	task, err := a.Storage.GetTask(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, task)
}

func (a *Application) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req updateTaskRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	task, err := a.Storage.UpdateTask(r.Context(), userID, r.PathValue("id"), storage.TaskUpdate{
		Title:        req.Title,
		Description:  req.Description,
		DueDate:      req.DueDate,
		ClearDueDate: req.ClearDueDate,
		DueTime:      req.DueTime,
		Priority:     req.Priority,
		Category:     req.Category,
		ReminderSent: req.ReminderSent,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, task)
}

func (a *Application) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	task, err := a.Storage.ToggleTask(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask removes the task's calendar events before deleting it.
// Event removal failures do not block the delete.
func (a *Application) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := a.Storage.GetTask(r.Context(), userID, id); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.Sync.RemoveTaskEverywhere(r.Context(), id)

	if err := a.Storage.DeleteTask(r.Context(), userID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
