package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docketra/internal/mailsync"
	"docketra/internal/models"
	"docketra/internal/runlog"
	"docketra/internal/store"
	"docketra/internal/syncer"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type fakeRemote struct {
	events   []*models.RemoteEvent
	inserted []*models.Event
}

func (r *fakeRemote) ListEvents(context.Context, models.Window) ([]*models.RemoteEvent, error) {
	return r.events, nil
}

func (r *fakeRemote) InsertEvent(_ context.Context, ev *models.Event) (string, error) {
	r.inserted = append(r.inserted, ev)
	return fmt.Sprintf("r-%d", len(r.inserted)), nil
}

func (r *fakeRemote) UpdateEvent(context.Context, string, *models.Event) error { return nil }

type fakeMailbox struct {
	messages []*models.Email
	sent     []*models.OutgoingMessage
}

func (m *fakeMailbox) ListMessages(context.Context, int64) ([]*models.Email, error) {
	return m.messages, nil
}

func (m *fakeMailbox) SendMessage(_ context.Context, msg *models.OutgoingMessage) (*models.Email, error) {
	m.sent = append(m.sent, msg)
	return &models.Email{ProviderMessageID: fmt.Sprintf("sent-%d", len(m.sent)), Subject: msg.Subject, To: msg.To, SentAt: testNow}, nil
}

type fakeProviders struct {
	remote  *fakeRemote
	mailbox *fakeMailbox
	err     error
}

func (p *fakeProviders) Calendar(context.Context, string) (syncer.RemoteCalendar, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.remote, nil
}

func (p *fakeProviders) Mailbox(context.Context, string) (mailsync.Mailbox, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.mailbox, nil
}

type harness struct {
	app       *fiber.App
	events    *store.EventStore
	emails    *store.EmailStore
	runs      *runlog.MemoryLog
	providers *fakeProviders
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	h := &harness{
		events:    store.NewEventStore(db),
		emails:    store.NewEmailStore(db),
		runs:      runlog.NewMemoryLog(),
		providers: &fakeProviders{remote: &fakeRemote{}, mailbox: &fakeMailbox{}},
	}
	cfg.AccessLog = io.Discard
	cfg.Now = func() time.Time { return testNow }
	h.app = New(Deps{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:    h.events,
		Emails:    h.emails,
		Providers: h.providers,
		Runs:      h.runs,
	}, cfg)
	return h
}

func (h *harness) do(t *testing.T, method, path, owner string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(UserHeader, owner)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresUser(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.do(t, http.MethodGet, "/api/v1/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventLifecycle(t *testing.T) {
	h := newHarness(t, Config{})

	resp, data := h.do(t, http.MethodPost, "/api/v1/events", "alice", map[string]interface{}{
		"title":     "Motion hearing",
		"type":      "court_date",
		"starts_at": "2026-05-10T09:00:00Z",
		"ends_at":   "2026-05-10T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	created := decode[models.Event](t, data)
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, models.EventCourtDate, created.Type)
	assert.Nil(t, created.RemoteID)
	assert.True(t, created.LastModified.Equal(testNow))

	resp, data = h.do(t, http.MethodGet, "/api/v1/events", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Event](t, data), 1)

	resp, data = h.do(t, http.MethodGet, "/api/v1/events", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", string(data))

	resp, _ = h.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = h.do(t, http.MethodPatch, "/api/v1/events/"+created.ID, "alice", map[string]interface{}{
		"title":   "Motion hearing (moved)",
		"case_id": "case-3",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	updated := decode[models.Event](t, data)
	assert.Equal(t, "Motion hearing (moved)", updated.Title)
	require.NotNil(t, updated.CaseID)
	assert.Equal(t, "case-3", *updated.CaseID)

	resp, _ = h.do(t, http.MethodDelete, "/api/v1/events/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateEventValidation(t *testing.T) {
	h := newHarness(t, Config{})

	resp, data := h.do(t, http.MethodPost, "/api/v1/events", "alice", map[string]interface{}{
		"type":      "party",
		"starts_at": "2026-05-10T09:00:00Z",
		"ends_at":   "2026-05-10T08:00:00Z",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[struct{ Problems []string }](t, data)
	assert.Len(t, body.Problems, 3)
}

func TestUpdateEventRejectsEndBeforeStart(t *testing.T) {
	h := newHarness(t, Config{})
	ev := &models.Event{Owner: "alice", Title: "Call", Type: models.EventMeeting, StartsAt: testNow.Add(time.Hour), LastModified: testNow}
	require.NoError(t, h.events.Insert(context.Background(), ev))

	resp, _ := h.do(t, http.MethodPatch, "/api/v1/events/"+ev.ID, "alice", map[string]interface{}{
		"ends_at": testNow.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalendarSync(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.events.Insert(ctx, &models.Event{
		Owner: "alice", Title: "Filing due", Type: models.EventFiling, StartsAt: testNow.Add(72 * time.Hour), LastModified: testNow,
	}))
	h.providers.remote.events = []*models.RemoteEvent{{
		ID: "g-9", Title: "Client lunch", Type: models.EventMeeting, StartsAt: testNow.Add(24 * time.Hour), Updated: testNow,
	}}

	resp, data := h.do(t, http.MethodPost, "/api/v1/calendar/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.JSONEq(t, `{"pushed":1,"pulled":1}`, string(data))

	pulled, err := h.events.FindByRemoteID(ctx, "alice", "g-9")
	require.NoError(t, err)
	assert.Equal(t, "Client lunch", pulled.Title)

	resp, data = h.do(t, http.MethodGet, "/api/v1/calendar/sync/status", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decode[runlog.Entry](t, data)
	assert.Equal(t, 1, entry.Pushed)
	assert.Equal(t, 1, entry.Pulled)

	resp, data = h.do(t, http.MethodPost, "/api/v1/calendar/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pushed":0,"pulled":0}`, string(data))
}

func TestCalendarSyncDryRunWritesNothing(t *testing.T) {
	h := newHarness(t, Config{})
	h.providers.remote.events = []*models.RemoteEvent{{ID: "g-1", Title: "x", StartsAt: testNow, Type: models.EventMeeting}}

	resp, data := h.do(t, http.MethodPost, "/api/v1/calendar/sync?dry_run=true", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pushed":0,"pulled":1}`, string(data))

	_, err := h.events.FindByRemoteID(context.Background(), "alice", "g-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCalendarSyncProviderUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.providers.err = errors.New("no token")

	resp, data := h.do(t, http.MethodPost, "/api/v1/calendar/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pushed":0,"pulled":0}`, string(data))

	last, err := h.runs.Last(context.Background(), "alice", runlog.KindCalendar)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Failed)
}

func TestCalendarSyncRejectsBadWindow(t *testing.T) {
	h := newHarness(t, Config{})

	resp, _ := h.do(t, http.MethodPost, "/api/v1/calendar/sync?from=2026-06-01T00:00:00Z&to=2026-05-01T00:00:00Z", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/calendar/sync?from=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, h.providers.remote.inserted)
}

func TestCalendarStatusBeforeFirstRun(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.do(t, http.MethodGet, "/api/v1/calendar/sync/status", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncIsRateLimitedPerUser(t *testing.T) {
	h := newHarness(t, Config{RateLimitSync: 1})

	resp, _ := h.do(t, http.MethodPost, "/api/v1/calendar/sync", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/calendar/sync", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/calendar/sync", "bob", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmailSyncThreadsAndUpdate(t *testing.T) {
	h := newHarness(t, Config{})
	h.providers.mailbox.messages = []*models.Email{
		{ProviderMessageID: "m-1", ThreadID: "t-1", Subject: "Lease", From: "client@acme.com", SentAt: testNow.Add(-3 * time.Hour)},
		{ProviderMessageID: "m-2", ThreadID: "t-1", Subject: "Re: Lease", From: "alice@firm.com", SentAt: testNow.Add(-2 * time.Hour), IsRead: true},
		{ProviderMessageID: "m-3", Subject: "Invoice", From: "billing@vendor.com", SentAt: testNow.Add(-1 * time.Hour)},
	}

	resp, data := h.do(t, http.MethodPost, "/api/v1/email/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"synced":3,"total":3}`, string(data))

	resp, data = h.do(t, http.MethodPost, "/api/v1/email/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"synced":0,"total":3}`, string(data))

	resp, data = h.do(t, http.MethodGet, "/api/v1/email/threads", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threads := decode[[]models.Thread](t, data)
	require.Len(t, threads, 2)
	assert.Equal(t, "Invoice", threads[0].Subject)
	assert.Equal(t, "t-1", threads[1].ID)
	assert.Equal(t, "Re: Lease", threads[1].Subject)
	assert.True(t, threads[1].Unread)

	unread := threads[1].Emails[1]
	resp, data = h.do(t, http.MethodPatch, "/api/v1/email/"+unread.ID, "alice", map[string]interface{}{"is_read": true, "case_id": "case-8"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	e := decode[models.Email](t, data)
	assert.True(t, e.IsRead)
	require.NotNil(t, e.CaseID)

	resp, data = h.do(t, http.MethodGet, "/api/v1/email/threads?case_id=case-8", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Thread](t, data), 1)

	resp, _ = h.do(t, http.MethodPatch, "/api/v1/email/"+unread.ID, "bob", map[string]interface{}{"is_read": false})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmailSyncProviderUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.providers.err = errors.New("revoked")

	resp, data := h.do(t, http.MethodPost, "/api/v1/email/sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"synced":0,"total":0}`, string(data))
}

func TestSendEmail(t *testing.T) {
	h := newHarness(t, Config{})

	resp, _ := h.do(t, http.MethodPost, "/api/v1/email/send", "alice", map[string]interface{}{
		"to": []string{"not-an-address"}, "subject": "Hi", "body": "text",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.providers.mailbox.sent)

	resp, data := h.do(t, http.MethodPost, "/api/v1/email/send", "alice", map[string]interface{}{
		"to": []string{"client@acme.com"}, "subject": "Engagement", "body": "Please sign.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	sent := decode[models.Email](t, data)
	assert.Equal(t, models.Outbound, sent.Direction)
	assert.True(t, sent.IsRead)

	stored, err := h.emails.Get(context.Background(), "alice", sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Engagement", stored.Subject)
}
