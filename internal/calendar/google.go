package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

// GoogleAdapter writes events through the Google Calendar API v3.
type GoogleAdapter struct {
	endpoint string
	client   *http.Client
	timeZone string
	logger   *zap.Logger
}

// NewGoogleAdapter creates a GoogleAdapter. An empty endpoint uses the
// public API; a nil client uses http.DefaultClient.
func NewGoogleAdapter(endpoint string, client *http.Client, timeZone string, logger *zap.Logger) *GoogleAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleAdapter{
		endpoint: endpoint,
		client:   client,
		timeZone: timeZone,
		logger:   logger,
	}
}

func (g *GoogleAdapter) Provider() provider.Provider {
	return provider.Google
}

func (g *GoogleAdapter) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, g.client), ts)

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

// newEvent builds the Calendar API event for task.
func (g *GoogleAdapter) newEvent(task *storage.Task) (*gcal.Event, error) {
	start, end, err := EventWindow(task)
	if err != nil {
		return nil, err
	}
	return &gcal.Event{
		Summary:     Summary(task.Title),
		Description: Description(task.Description),
		Start:       &gcal.EventDateTime{DateTime: FormatTime(start), TimeZone: g.timeZone},
		End:         &gcal.EventDateTime{DateTime: FormatTime(end), TimeZone: g.timeZone},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "popup", Minutes: 30},
				{Method: "popup", Minutes: 0, ForceSendFields: []string{"Minutes"}},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}, nil
}

// CreateEvent inserts an event for task and returns its id.
func (g *GoogleAdapter) CreateEvent(ctx context.Context, accessToken, calendarID string, task *storage.Task) (string, error) {
	event, err := g.newEvent(task)
	if err != nil {
		return "", err
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteEventCreateFailed, err)
	}

	defer observe(provider.Google, "create", time.Now())
	created, err := svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", classify(ErrRemoteEventCreateFailed, err)
	}

	g.logger.Debug("created google event", logging.TaskID(task.ID), logging.EventID(created.Id))
	return created.Id, nil
}

// DeleteEvent removes an event. An event that is already gone (410) counts
// as deleted.
func (g *GoogleAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteEventDeleteFailed, err)
	}

	defer observe(provider.Google, "delete", time.Now())
	err = svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
		g.logger.Debug("google event already deleted", logging.EventID(eventID))
		return nil
	}
	if err != nil {
		return classify(ErrRemoteEventDeleteFailed, err)
	}
	return nil
}

// classify wraps a Calendar API error with sentinel and the HTTP status text.
func classify(sentinel, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fmt.Errorf("%w: %s", sentinel, http.StatusText(gerr.Code))
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
