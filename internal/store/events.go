package store

import (
	"context"
	"fmt"

	"docketra/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventStore reads and writes the local event table. Every query is scoped
// to the owning user.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// ListRange returns the owner's events starting inside w, earliest first.
func (s *EventStore) ListRange(ctx context.Context, owner string, w models.Window) ([]*models.Event, error) {
	var events []*models.Event
	err := s.db.WithContext(ctx).
		Where("owner = ? AND starts_at >= ? AND starts_at <= ?", owner, w.Min.UTC(), w.Max.UTC()).
		Order("starts_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Get loads a single event by id.
func (s *EventStore) Get(ctx context.Context, owner, id string) (*models.Event, error) {
	var ev models.Event
	if err := s.db.WithContext(ctx).Where("owner = ? AND id = ?", owner, id).First(&ev).Error; err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

// FindByRemoteID loads the event linked to a provider id.
func (s *EventStore) FindByRemoteID(ctx context.Context, owner, remoteID string) (*models.Event, error) {
	var ev models.Event
	if err := s.db.WithContext(ctx).Where("owner = ? AND remote_id = ?", owner, remoteID).First(&ev).Error; err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

// Insert stores a new event, assigning an id when the caller left it blank.
func (s *EventStore) Insert(ctx context.Context, ev *models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	normalizeEvent(ev)
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update writes every column of ev. LastModified is stored as given; user
// edits bump it, sync writes do not.
func (s *EventStore) Update(ctx context.Context, ev *models.Event) error {
	normalizeEvent(ev)
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("owner = ? AND id = ?", ev.Owner, ev.ID).
		Select("*").Omit("id", "owner", "created_at").
		Updates(ev)
	if res.Error != nil {
		return fmt.Errorf("failed to update event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event.
func (s *EventStore) Delete(ctx context.Context, owner, id string) error {
	res := s.db.WithContext(ctx).Where("owner = ? AND id = ?", owner, id).Delete(&models.Event{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEvent(ev *models.Event) {
	ev.StartsAt = ev.StartsAt.UTC()
	if ev.EndsAt != nil {
		t := ev.EndsAt.UTC()
		ev.EndsAt = &t
	}
	if ev.LastSync != nil {
		t := ev.LastSync.UTC()
		ev.LastSync = &t
	}
	ev.LastModified = ev.LastModified.UTC()
}
