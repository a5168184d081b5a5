package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

// GraphBaseURL is the Microsoft Graph v1.0 root.
const GraphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookDefaultCalendar names the signed-in user's default calendar. Graph
// addresses it as /me/calendar, not by id; an empty id means the same.
const OutlookDefaultCalendar = "default"

// OutlookAdapter writes events through Microsoft Graph.
type OutlookAdapter struct {
	baseURL  string
	client   *http.Client
	timeZone string
	logger   *zap.Logger
}

// NewOutlookAdapter creates an OutlookAdapter. An empty baseURL uses
// GraphBaseURL; a nil client uses http.DefaultClient.
func NewOutlookAdapter(baseURL string, client *http.Client, timeZone string, logger *zap.Logger) *OutlookAdapter {
	if baseURL == "" {
		baseURL = GraphBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OutlookAdapter{
		baseURL:  baseURL,
		client:   client,
		timeZone: timeZone,
		logger:   logger,
	}
}

func (o *OutlookAdapter) Provider() provider.Provider {
	return provider.Outlook
}

type outlookBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outlookDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type outlookEvent struct {
	ID                         string          `json:"id,omitempty"`
	Subject                    string          `json:"subject"`
	Body                       outlookBody     `json:"body"`
	Start                      outlookDateTime `json:"start"`
	End                        outlookDateTime `json:"end"`
	ReminderMinutesBeforeStart int             `json:"reminderMinutesBeforeStart"`
	IsReminderOn               bool            `json:"isReminderOn"`
}

func (o *OutlookAdapter) newEvent(task *storage.Task) (*outlookEvent, error) {
	start, end, err := EventWindow(task)
	if err != nil {
		return nil, err
	}
	return &outlookEvent{
		Subject: Summary(task.Title),
		Body: outlookBody{
			ContentType: "text",
			Content:     Description(task.Description),
		},
		Start:                      outlookDateTime{DateTime: FormatTime(start), TimeZone: o.timeZone},
		End:                        outlookDateTime{DateTime: FormatTime(end), TimeZone: o.timeZone},
		ReminderMinutesBeforeStart: 30,
		IsReminderOn:               true,
	}, nil
}

func (o *OutlookAdapter) eventsURL(calendarID string) string {
	if calendarID == "" || calendarID == OutlookDefaultCalendar {
		return o.baseURL + "/me/calendar/events"
	}
	return o.baseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/events"
}

// CreateEvent posts an event for task and returns its id.
func (o *OutlookAdapter) CreateEvent(ctx context.Context, accessToken, calendarID string, task *storage.Task) (string, error) {
	event, err := o.newEvent(task)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.eventsURL(calendarID), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteEventCreateFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	defer observe(provider.Outlook, "create", time.Now())
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteEventCreateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrRemoteEventCreateFailed, http.StatusText(resp.StatusCode))
	}

	var created outlookEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrRemoteEventCreateFailed, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response has no event id", ErrRemoteEventCreateFailed)
	}

	o.logger.Debug("created outlook event", logging.TaskID(task.ID), logging.EventID(created.ID))
	return created.ID, nil
}

// DeleteEvent removes an event. An event that is already gone (404) counts
// as deleted.
func (o *OutlookAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		o.eventsURL(calendarID)+"/"+url.PathEscape(eventID), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteEventDeleteFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	defer observe(provider.Outlook, "delete", time.Now())
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteEventDeleteFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		o.logger.Debug("outlook event already deleted", logging.EventID(eventID))
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s", ErrRemoteEventDeleteFailed, http.StatusText(resp.StatusCode))
	}
	return nil
}
