package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"docketra/internal/mailsync"
	"docketra/internal/models"
	"docketra/internal/runlog"
	"docketra/internal/store"
	"docketra/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct{ ops []string }

func (r *recordingReporter) ReportFailure(_ context.Context, op string, _ map[string]string, _ error) {
	r.ops = append(r.ops, op)
}

type emptyEvents struct{}

func (emptyEvents) ListRange(context.Context, string, models.Window) ([]*models.Event, error) {
	return nil, nil
}
func (emptyEvents) Get(context.Context, string, string) (*models.Event, error) {
	return nil, store.ErrNotFound
}
func (emptyEvents) FindByRemoteID(context.Context, string, string) (*models.Event, error) {
	return nil, store.ErrNotFound
}
func (emptyEvents) Insert(context.Context, *models.Event) error { return nil }
func (emptyEvents) Update(context.Context, *models.Event) error { return nil }
func (emptyEvents) Delete(context.Context, string, string) error { return nil }

type downRemote struct{}

func (downRemote) ListEvents(context.Context, models.Window) ([]*models.RemoteEvent, error) {
	return nil, errors.New("503 backend error")
}
func (downRemote) InsertEvent(context.Context, *models.Event) (string, error) { return "", nil }
func (downRemote) UpdateEvent(context.Context, string, *models.Event) error { return nil }

type downMailbox struct{}

func (downMailbox) ListMessages(context.Context, int64) ([]*models.Email, error) {
	return nil, errors.New("token revoked")
}
func (downMailbox) SendMessage(context.Context, *models.OutgoingMessage) (*models.Email, error) {
	return nil, errors.New("unused")
}

type stubProviders struct{ err error }

func (p stubProviders) Calendar(context.Context, string) (syncer.RemoteCalendar, error) {
	if p.err != nil {
		return nil, p.err
	}
	return downRemote{}, nil
}

func (p stubProviders) Mailbox(context.Context, string) (mailsync.Mailbox, error) {
	if p.err != nil {
		return nil, p.err
	}
	return downMailbox{}, nil
}

func newJob(p stubProviders, reporter *recordingReporter) (*syncJob, *runlog.MemoryLog) {
	runs := runlog.NewMemoryLog()
	return &syncJob{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		providers: p,
		events:    emptyEvents{},
		runs:      runs,
		reporter:  reporter,
		window:    models.DefaultWindow,
		mailMax:   50,
	}, runs
}

func TestSyncJobReportsItemFailures(t *testing.T) {
	ctx := context.Background()
	reporter := &recordingReporter{}
	job, runs := newJob(stubProviders{}, reporter)

	require.NoError(t, job.calendar(ctx, "alice", false))
	require.NoError(t, job.mail(ctx, "alice"))
	assert.Equal(t, []string{"list_remote", "list_messages"}, reporter.ops)

	last, err := runs.Last(ctx, "alice", runlog.KindCalendar)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Failed)
	assert.False(t, last.FinishedAt.Before(last.StartedAt))
}

func TestSyncJobReportsProviderFailure(t *testing.T) {
	ctx := context.Background()
	reporter := &recordingReporter{}
	job, runs := newJob(stubProviders{err: errors.New("no token")}, reporter)

	assert.Error(t, job.calendar(ctx, "alice", false))
	assert.Error(t, job.mail(ctx, "alice"))
	assert.Equal(t, []string{"calendar_client", "mailbox_client"}, reporter.ops)

	last, err := runs.Last(ctx, "alice", runlog.KindMail)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Failed)
	assert.WithinDuration(t, time.Now(), last.FinishedAt, time.Minute)
}
