package calsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"taskcal-go/internal/calendar"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[string]*storage.Task
	sets  int
	// setErr, when set, is returned by SetTaskEventID.
	setErr error
}

func newFakeTasks(tasks ...*storage.Task) *fakeTasks {
	f := &fakeTasks{tasks: make(map[string]*storage.Task)}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) GetTask(ctx context.Context, userID, id string) (*storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) SetTaskEventID(ctx context.Context, userID, id string, p provider.Provider, expected, next string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	t, ok := f.tasks[id]
	if !ok || t.UserID != userID {
		return storage.ErrNotFound
	}
	if t.EventID(p) != expected {
		return storage.ErrConflict
	}
	switch p {
	case provider.Google:
		t.GoogleEventID = next
	case provider.Outlook:
		t.OutlookEventID = next
	}
	return nil
}

func (f *fakeTasks) eventID(id string, p provider.Provider) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].EventID(p)
}

type fakeCreds struct {
	creds map[provider.Provider]*storage.Credential
	err   error
}

func (f *fakeCreds) Get(ctx context.Context, p provider.Provider) (*storage.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.creds[p]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, p provider.Provider) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "refreshed-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type adapterCall struct {
	op         string
	token      string
	calendarID string
	eventID    string
	task       *storage.Task
}

type fakeAdapter struct {
	p         provider.Provider
	mu        sync.Mutex
	calls     []adapterCall
	createErr error
	deleteErr error
	nextID    int
	// delay holds CreateEvent open to widen race windows.
	delay time.Duration
}

var _ calendar.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Provider() provider.Provider { return f.p }

func (f *fakeAdapter) CreateEvent(ctx context.Context, accessToken, calendarID string, task *storage.Task) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, adapterCall{op: "create", token: accessToken, calendarID: calendarID, task: task})
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	return string(f.p) + "-event-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, adapterCall{op: "delete", token: accessToken, calendarID: calendarID, eventID: eventID})
	return f.deleteErr
}

func (f *fakeAdapter) recorded() []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapterCall(nil), f.calls...)
}

var errBoom = errors.New("boom")
