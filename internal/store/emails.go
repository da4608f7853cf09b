package store

import (
	"context"
	"fmt"

	"docketra/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmailStore reads and writes stored provider messages.
type EmailStore struct {
	db *gorm.DB
}

func NewEmailStore(db *gorm.DB) *EmailStore {
	return &EmailStore{db: db}
}

// Insert stores a message, assigning an id when the caller left it blank.
// It reports false, without error, when the owner already has the provider
// message; concurrent syncs of one mailbox race on that row.
func (s *EmailStore) Insert(ctx context.Context, e *models.Email) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.SentAt = e.SentAt.UTC()
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).
		Create(e)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert email: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ExistsByProviderID reports whether the provider message is already stored.
func (s *EmailStore) ExistsByProviderID(ctx context.Context, owner, providerMessageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("owner = ? AND provider_message_id = ?", owner, providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up email: %w", err)
	}
	return count > 0, nil
}

// ListFilter narrows List. Zero values mean no filtering.
type ListFilter struct {
	CaseID string
	Limit  int
}

// List returns the owner's messages, newest first.
func (s *EmailStore) List(ctx context.Context, owner string, f ListFilter) ([]*models.Email, error) {
	q := s.db.WithContext(ctx).Where("owner = ?", owner)
	if f.CaseID != "" {
		q = q.Where("case_id = ?", f.CaseID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var emails []*models.Email
	if err := q.Order("sent_at DESC").Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

// Get loads a single message by id.
func (s *EmailStore) Get(ctx context.Context, owner, id string) (*models.Email, error) {
	var e models.Email
	if err := s.db.WithContext(ctx).Where("owner = ? AND id = ?", owner, id).First(&e).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// SetRead updates the read flag.
func (s *EmailStore) SetRead(ctx context.Context, owner, id string, read bool) error {
	return s.updateColumn(ctx, owner, id, "is_read", read)
}

// LinkCase attaches the message to a case, or detaches it when caseID is nil.
func (s *EmailStore) LinkCase(ctx context.Context, owner, id string, caseID *string) error {
	return s.updateColumn(ctx, owner, id, "case_id", caseID)
}

func (s *EmailStore) updateColumn(ctx context.Context, owner, id, column string, value interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("owner = ? AND id = ?", owner, id).
		Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("failed to update email %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
