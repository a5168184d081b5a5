// Package calendar translates tasks into provider calendar events.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskcal-go/internal/metrics"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

var (
	ErrRemoteEventCreateFailed = errors.New("failed to create calendar event")
	ErrRemoteEventDeleteFailed = errors.New("failed to delete calendar event")
)

// DefaultDescription is used for tasks without a description.
const DefaultDescription = "Task from Bebu's Reminder App"

// EventDuration is the length of every event created for a task.
const EventDuration = time.Hour

// isoLayout renders instants like 2023-11-14T22:13:20.000Z.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Adapter creates and deletes remote events for one provider. Adapters hold
// no per-user state; the access token is passed on every call.
type Adapter interface {
	Provider() provider.Provider
	CreateEvent(ctx context.Context, accessToken, calendarID string, task *storage.Task) (string, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// Summary is the event title for a task.
func Summary(title string) string {
	return "📝 " + title
}

// Description is the event body for a task.
func Description(description string) string {
	if description == "" {
		return DefaultDescription
	}
	return description
}

// EventWindow returns the start and end of the event for task.
func EventWindow(task *storage.Task) (time.Time, time.Time, error) {
	if task.DueDate == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: task %s has no due date", storage.ErrInvalidInput, task.ID)
	}
	start := *task.DueDate
	return start, start.Add(EventDuration), nil
}

func observe(p provider.Provider, operation string, start time.Time) {
	metrics.RemoteCallDuration.WithLabelValues(p.String(), operation).Observe(time.Since(start).Seconds())
}
