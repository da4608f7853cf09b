package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docketra/internal/models"
	"docketra/internal/store"
)

// ErrInvalidWindow is returned before any work when the window is empty.
var ErrInvalidWindow = errors.New("sync window must satisfy min < max")

// RemoteCalendar is the provider side of a reconciliation pass.
type RemoteCalendar interface {
	ListEvents(ctx context.Context, w models.Window) ([]*models.RemoteEvent, error)
	InsertEvent(ctx context.Context, ev *models.Event) (string, error)
	UpdateEvent(ctx context.Context, remoteID string, ev *models.Event) error
}

// EventStore is the local side of a reconciliation pass.
type EventStore interface {
	ListRange(ctx context.Context, owner string, w models.Window) ([]*models.Event, error)
	Get(ctx context.Context, owner, id string) (*models.Event, error)
	FindByRemoteID(ctx context.Context, owner, remoteID string) (*models.Event, error)
	Insert(ctx context.Context, ev *models.Event) error
	Update(ctx context.Context, ev *models.Event) error
	Delete(ctx context.Context, owner, id string) error
}

// FailureReporter receives per-item failures that the pass logged and skipped.
type FailureReporter interface {
	ReportFailure(ctx context.Context, op string, fields map[string]string, err error)
}

// Result counts what a pass changed.
type Result struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
	Failed int `json:"-"`
}

// Option customises a Syncer.
type Option func(*Syncer)

// WithPolicy replaces the default last-writer-wins policy.
func WithPolicy(p ConflictPolicy) Option {
	return func(s *Syncer) { s.policy = p }
}

// WithReporter forwards per-item failures to r.
func WithReporter(r FailureReporter) Option {
	return func(s *Syncer) { s.reporter = r }
}

// WithDryRun logs and counts decisions without writing to either side.
func WithDryRun(dryRun bool) Option {
	return func(s *Syncer) { s.dryRun = dryRun }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// Syncer reconciles one user's local events with a remote calendar. A
// Syncer is built per request around a request-scoped remote client.
type Syncer struct {
	logger   *slog.Logger
	local    EventStore
	remote   RemoteCalendar
	policy   ConflictPolicy
	reporter FailureReporter
	dryRun   bool
	now      func() time.Time
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, local EventStore, remote RemoteCalendar, opts ...Option) *Syncer {
	s := &Syncer{
		logger: logger,
		local:  local,
		remote: remote,
		policy: LastWriterWins{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile runs one push-then-pull pass for owner inside w. Failures on
// single events are logged and skipped; they never abort the pass. A failed
// listing skips only the phase that needed it. The only error returned is
// ErrInvalidWindow.
//
// The remote listing is taken before the push phase so that a local event
// whose earlier insert reached the provider, but whose remote id was never
// stored, is re-linked to that copy instead of being inserted again.
func (s *Syncer) Reconcile(ctx context.Context, owner string, w models.Window) (Result, error) {
	if !w.Valid() {
		return Result{}, fmt.Errorf("%w: min=%s max=%s", ErrInvalidWindow, w.Min, w.Max)
	}
	log := s.logger.With("owner", owner)
	log.Info("Starting reconciliation pass.", "min", w.Min, "max", w.Max, "dryRun", s.dryRun)

	var res Result

	remote, remoteErr := s.remote.ListEvents(ctx, w)
	if remoteErr != nil {
		log.Error("Could not list remote events, skipping pull phase", "error", remoteErr)
		s.report(ctx, "list_remote", map[string]string{"owner": owner}, remoteErr)
		res.Failed++
	}
	byLocalID := make(map[string]*models.RemoteEvent)
	for _, rev := range remote {
		if rev.LocalID != "" && !rev.Cancelled {
			byLocalID[rev.LocalID] = rev
		}
	}

	local, err := s.local.ListRange(ctx, owner, w)
	if err != nil {
		log.Error("Could not list local events, skipping push phase", "error", err)
		s.report(ctx, "list_local", map[string]string{"owner": owner}, err)
		res.Failed++
	} else {
		for _, ev := range local {
			if !ev.HasRemote() {
				if rev, ok := byLocalID[ev.ID]; ok {
					log.Warn("Re-linking event to its existing remote copy", "eventID", ev.ID, "remoteID", rev.ID)
					id := rev.ID
					ev.RemoteID = &id
					ev.LastSync = nil
				}
			}
			pushed, err := s.pushEvent(ctx, ev)
			if err != nil {
				log.Error("Failed to push event", "eventID", ev.ID, "title", ev.Title, "error", err)
				s.report(ctx, "push", map[string]string{"owner": owner, "event_id": ev.ID}, err)
				res.Failed++
				continue
			}
			if pushed {
				res.Pushed++
			}
		}
	}

	if remoteErr != nil {
		log.Info("Reconciliation pass finished.", "pushed", res.Pushed, "pulled", res.Pulled, "failed", res.Failed)
		return res, nil
	}

	byRemoteID := make(map[string]*models.Event, len(local))
	for _, ev := range local {
		if ev.HasRemote() {
			byRemoteID[*ev.RemoteID] = ev
		}
	}

	for _, rev := range remote {
		pulled, err := s.pullEvent(ctx, owner, rev, byRemoteID)
		if err != nil {
			log.Error("Failed to pull event", "remoteID", rev.ID, "title", rev.Title, "error", err)
			s.report(ctx, "pull", map[string]string{"owner": owner, "remote_id": rev.ID}, err)
			res.Failed++
			continue
		}
		if pulled {
			res.Pulled++
		}
	}

	log.Info("Reconciliation pass finished.", "pushed", res.Pushed, "pulled", res.Pulled, "failed", res.Failed)
	return res, nil
}

// pushEvent sends one local event to the provider when it is new or edited.
func (s *Syncer) pushEvent(ctx context.Context, ev *models.Event) (bool, error) {
	if !ev.HasRemote() {
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would create event remotely", "eventID", ev.ID, "title", ev.Title)
			return true, nil
		}
		remoteID, err := s.remote.InsertEvent(ctx, ev)
		if err != nil {
			return false, fmt.Errorf("failed to create remote event: %w", err)
		}
		if remoteID == "" {
			return false, errors.New("provider returned an empty event id")
		}
		ev.RemoteID = &remoteID
		return true, s.markSynced(ctx, ev)
	}

	if !s.policy.ShouldPush(ev) {
		return false, nil
	}
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would update remote event", "eventID", ev.ID, "remoteID", *ev.RemoteID, "title", ev.Title)
		return true, nil
	}
	if err := s.remote.UpdateEvent(ctx, *ev.RemoteID, ev); err != nil {
		return false, fmt.Errorf("failed to update remote event %s: %w", *ev.RemoteID, err)
	}
	return true, s.markSynced(ctx, ev)
}

// markSynced stamps LastSync after a successful remote write. A store
// failure here leaves the remote copy ahead; the next pass pushes again.
func (s *Syncer) markSynced(ctx context.Context, ev *models.Event) error {
	now := s.stamp()
	ev.LastSync = &now
	if err := s.local.Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to record sync for event %s: %w", ev.ID, err)
	}
	return nil
}

// pullEvent applies one remote event to the local store.
func (s *Syncer) pullEvent(ctx context.Context, owner string, rev *models.RemoteEvent, byRemoteID map[string]*models.Event) (bool, error) {
	if err := rev.Validate(); err != nil {
		return false, err
	}

	match, err := s.lookup(ctx, owner, rev.ID, byRemoteID)
	if err != nil {
		return false, err
	}

	if rev.Cancelled {
		if match == nil {
			return false, nil
		}
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would delete cancelled event locally", "eventID", match.ID, "remoteID", rev.ID)
			return true, nil
		}
		if err := s.local.Delete(ctx, owner, match.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("failed to delete cancelled event %s: %w", match.ID, err)
		}
		delete(byRemoteID, rev.ID)
		return true, nil
	}

	if match == nil && rev.LocalID != "" {
		linked, err := s.relink(ctx, owner, rev)
		if err != nil {
			return false, err
		}
		if linked {
			return false, nil
		}
	}

	if match == nil {
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would insert remote event locally", "remoteID", rev.ID, "title", rev.Title)
			return true, nil
		}
		now := s.stamp()
		ev := &models.Event{
			Owner:        owner,
			LastSync:     &now,
			LastModified: now,
		}
		ev.ApplyRemote(rev)
		if err := s.local.Insert(ctx, ev); err != nil {
			return false, fmt.Errorf("failed to insert remote event %s: %w", rev.ID, err)
		}
		byRemoteID[rev.ID] = ev
		return true, nil
	}

	if !s.policy.ShouldPull(match, rev) {
		return false, nil
	}
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would overwrite local event from remote", "eventID", match.ID, "remoteID", rev.ID)
		return true, nil
	}
	now := s.stamp()
	updated := *match
	updated.ApplyRemote(rev)
	updated.LastSync = &now
	updated.LastModified = now
	if err := s.local.Update(ctx, &updated); err != nil {
		return false, fmt.Errorf("failed to update local event %s: %w", match.ID, err)
	}
	*match = updated
	return true, nil
}

// lookup finds the local event for a remote id, first among the events
// already loaded for the window, then in the store for events whose local
// start has drifted outside it.
func (s *Syncer) lookup(ctx context.Context, owner, remoteID string, byRemoteID map[string]*models.Event) (*models.Event, error) {
	if ev, ok := byRemoteID[remoteID]; ok {
		return ev, nil
	}
	ev, err := s.local.FindByRemoteID(ctx, owner, remoteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up local event for %s: %w", remoteID, err)
	}
	byRemoteID[remoteID] = ev
	return ev, nil
}

// relink attaches a remote copy to the local event it was pushed from when
// that event lost its remote id. It reports false when no such local event
// exists, so the caller inserts the copy as new. A local event already linked
// to another copy keeps its link and the stray copy is left alone.
func (s *Syncer) relink(ctx context.Context, owner string, rev *models.RemoteEvent) (bool, error) {
	ev, err := s.local.Get(ctx, owner, rev.LocalID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up local event %s: %w", rev.LocalID, err)
	}
	if ev.HasRemote() {
		s.logger.Warn("Ignoring duplicate remote copy", "eventID", ev.ID, "remoteID", rev.ID, "linkedTo", *ev.RemoteID)
		return true, nil
	}
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would re-link event to remote copy", "eventID", ev.ID, "remoteID", rev.ID)
		return true, nil
	}
	id := rev.ID
	ev.RemoteID = &id
	// LastSync stays unset so the next pass pushes the local state.
	if err := s.local.Update(ctx, ev); err != nil {
		return false, fmt.Errorf("failed to re-link event %s: %w", ev.ID, err)
	}
	return true, nil
}

// stamp is the sync timestamp, truncated to what Postgres stores so a
// reloaded event compares equal to the one just written.
func (s *Syncer) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Syncer) report(ctx context.Context, op string, fields map[string]string, err error) {
	if s.reporter != nil {
		s.reporter.ReportFailure(ctx, op, fields, err)
	}
}
