// Package calsync keeps a task's remote calendar events in step with the task.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/calendar"
	"taskcal-go/internal/logging"
	"taskcal-go/internal/metrics"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrCalendarNotConnected = errors.New("calendar not connected")
	ErrNoDueDate            = errors.New("task has no due date")
)

const (
	opCreate = "create"
	opDelete = "delete"
)

// TaskRepository reads tasks and swaps their event references.
type TaskRepository interface {
	GetTask(ctx context.Context, userID, id string) (*storage.Task, error)
	SetTaskEventID(ctx context.Context, userID, id string, p provider.Provider, expected, next string) error
}

// CredentialSource returns the caller's stored credential for a provider.
type CredentialSource interface {
	Get(ctx context.Context, p provider.Provider) (*storage.Credential, error)
}

// TokenRefresher renews the caller's access token for a provider.
type TokenRefresher interface {
	Refresh(ctx context.Context, p provider.Provider) (*oauth2.Token, error)
}

// Orchestrator creates and removes remote events for tasks.
type Orchestrator struct {
	tasks     TaskRepository
	creds     CredentialSource
	refresher TokenRefresher
	adapters  map[provider.Provider]calendar.Adapter
	order     []provider.Provider
	locks     *keyedMutex
	now       func() time.Time
	logger    *zap.Logger
}

// New creates an Orchestrator serving the providers of the given adapters.
func New(tasks TaskRepository, creds CredentialSource, refresher TokenRefresher, adapters []calendar.Adapter, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		tasks:     tasks,
		creds:     creds,
		refresher: refresher,
		adapters:  make(map[provider.Provider]calendar.Adapter, len(adapters)),
		locks:     newKeyedMutex(),
		now:       time.Now,
		logger:    logger,
	}
	for _, a := range adapters {
		o.adapters[a.Provider()] = a
		o.order = append(o.order, a.Provider())
	}
	return o
}

func (o *Orchestrator) adapter(p provider.Provider) (calendar.Adapter, error) {
	a, ok := o.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknown, p)
	}
	return a, nil
}

// loadTask fetches the caller's task, mapping absence to ErrTaskNotFound.
func (o *Orchestrator) loadTask(ctx context.Context, userID, taskID string) (*storage.Task, error) {
	task, err := o.tasks.GetTask(ctx, userID, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, err
}

// accessToken returns a usable access token, refreshing when the stored one
// has expired.
func (o *Orchestrator) accessToken(ctx context.Context, p provider.Provider, cred *storage.Credential) (string, error) {
	if !cred.Expired(o.now()) {
		return cred.AccessToken, nil
	}
	token, err := o.refresher.Refresh(ctx, p)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// SyncTask creates a remote event for the caller's task on p and records its
// id on the task. On failure the task is left unchanged.
func (o *Orchestrator) SyncTask(ctx context.Context, p provider.Provider, taskID string) (eventID string, err error) {
	defer func() {
		metrics.SyncOperations.WithLabelValues(p.String(), opCreate, metrics.Outcome(err)).Inc()
	}()

	userID, err := auth.UserIDFromContext(ctx)
	if err != nil {
		return "", err
	}
	adapter, err := o.adapter(p)
	if err != nil {
		return "", err
	}

	unlock := o.locks.Lock(taskID)
	defer unlock()

	task, err := o.loadTask(ctx, userID, taskID)
	if err != nil {
		return "", err
	}
	if task.DueDate == nil {
		return "", fmt.Errorf("%w: %s", ErrNoDueDate, taskID)
	}

	cred, err := o.creds.Get(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrCalendarNotConnected, p.DisplayName())
	}
	if err != nil {
		return "", err
	}

	token, err := o.accessToken(ctx, p, cred)
	if err != nil {
		return "", err
	}

	eventID, err = adapter.CreateEvent(ctx, token, cred.CalendarID, task)
	if err != nil {
		return "", err
	}

	previous := task.EventID(p)
	if err := o.tasks.SetTaskEventID(ctx, userID, taskID, p, previous, eventID); err != nil {
		// The reference could not be recorded, so the new event would be unreachable.
		if derr := adapter.DeleteEvent(ctx, token, cred.CalendarID, eventID); derr != nil {
			o.logger.Warn("failed to roll back remote event",
				logging.UserID(userID), logging.Provider(p), logging.TaskID(taskID),
				logging.EventID(eventID), zap.Error(derr))
		}
		return "", err
	}

	if previous != "" {
		o.logger.Info("replaced remote event reference",
			logging.UserID(userID), logging.Provider(p), logging.TaskID(taskID),
			zap.String("previous_event_id", previous))
	}
	o.logger.Info("synced task to calendar",
		logging.UserID(userID), logging.Provider(p), logging.TaskID(taskID), logging.EventID(eventID))
	return eventID, nil
}

// RemoveTask deletes the task's remote event on p and clears the reference.
// A task without an event, or a caller without a connected calendar, is a
// no-op. When the remote delete fails the reference is kept for a retry.
func (o *Orchestrator) RemoveTask(ctx context.Context, p provider.Provider, taskID string) (err error) {
	outcome := metrics.OutcomeSkipped
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.SyncOperations.WithLabelValues(p.String(), opDelete, outcome).Inc()
	}()

	userID, err := auth.UserIDFromContext(ctx)
	if err != nil {
		return err
	}
	adapter, err := o.adapter(p)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(taskID)
	defer unlock()

	task, err := o.loadTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	eventID := task.EventID(p)
	if eventID == "" {
		return nil
	}

	cred, err := o.creds.Get(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := o.accessToken(ctx, p, cred)
	if err != nil {
		return err
	}

	if err := adapter.DeleteEvent(ctx, token, cred.CalendarID, eventID); err != nil {
		return err
	}
	if err := o.tasks.SetTaskEventID(ctx, userID, taskID, p, eventID, ""); err != nil {
		return err
	}

	outcome = metrics.OutcomeSuccess
	o.logger.Info("removed task from calendar",
		logging.UserID(userID), logging.Provider(p), logging.TaskID(taskID), logging.EventID(eventID))
	return nil
}

// RemoveTaskEverywhere removes the task's events from every provider. Failures
// are logged and otherwise ignored.
func (o *Orchestrator) RemoveTaskEverywhere(ctx context.Context, taskID string) {
	for _, p := range o.order {
		if err := o.RemoveTask(ctx, p, taskID); err != nil {
			o.logger.Warn("failed to remove task from calendar",
				logging.Provider(p), logging.TaskID(taskID), zap.Error(err))
		}
	}
}

// Providers lists the providers the orchestrator can sync to.
func (o *Orchestrator) Providers() []provider.Provider {
	return append([]provider.Provider(nil), o.order...)
}
