package mailsync

import (
	"context"
	"fmt"
	"log/slog"

	"docketra/internal/models"
	"docketra/internal/validation"
)

// Mailbox is a provider mail account.
type Mailbox interface {
	ListMessages(ctx context.Context, max int64) ([]*models.Email, error)
	SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.Email, error)
}

// EmailStore is where provider messages are kept.
type EmailStore interface {
	ExistsByProviderID(ctx context.Context, owner, providerMessageID string) (bool, error)
	// Insert reports false when the message was already stored.
	Insert(ctx context.Context, e *models.Email) (bool, error)
}

// FailureReporter receives per-message failures that were logged and skipped.
type FailureReporter interface {
	ReportFailure(ctx context.Context, op string, fields map[string]string, err error)
}

// Result counts one mail sync. Total is what the provider returned.
type Result struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

type Option func(*Syncer)

// WithReporter forwards per-message failures to r.
func WithReporter(r FailureReporter) Option {
	return func(s *Syncer) { s.reporter = r }
}

// Syncer copies a user's recent provider mail into the store.
type Syncer struct {
	logger   *slog.Logger
	store    EmailStore
	mailbox  Mailbox
	reporter FailureReporter
}

func NewSyncer(logger *slog.Logger, store EmailStore, mailbox Mailbox, opts ...Option) *Syncer {
	s := &Syncer{logger: logger, store: store, mailbox: mailbox}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync fetches up to max recent messages and stores the ones not seen
// before. A listing failure yields an empty result; a failure on one
// message skips only that message.
func (s *Syncer) Sync(ctx context.Context, owner string, max int64) Result {
	log := s.logger.With("owner", owner)

	messages, err := s.mailbox.ListMessages(ctx, max)
	if err != nil {
		log.Error("Could not list provider messages", "error", err)
		s.report(ctx, "list_messages", map[string]string{"owner": owner}, err)
		return Result{}
	}

	res := Result{Total: len(messages)}
	for _, e := range messages {
		stored, err := s.storeNew(ctx, owner, e)
		if err != nil {
			log.Error("Failed to store message", "providerMessageID", e.ProviderMessageID, "error", err)
			s.report(ctx, "store_message", map[string]string{"owner": owner, "provider_message_id": e.ProviderMessageID}, err)
			continue
		}
		if stored {
			res.Synced++
		}
	}

	log.Info("Mail sync finished.", "synced", res.Synced, "total", res.Total)
	return res
}

func (s *Syncer) storeNew(ctx context.Context, owner string, e *models.Email) (bool, error) {
	if e.ProviderMessageID == "" {
		return false, fmt.Errorf("message has no provider id")
	}
	exists, err := s.store.ExistsByProviderID(ctx, owner, e.ProviderMessageID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	e.ID = ""
	e.Owner = owner
	if e.Direction == "" {
		e.Direction = models.Inbound
	}
	return s.store.Insert(ctx, e)
}

// Send validates msg, sends it through the provider and stores the sent
// copy as read. A store failure after a successful send is logged and the
// sent copy is still returned.
func (s *Syncer) Send(ctx context.Context, owner string, msg *models.OutgoingMessage) (*models.Email, error) {
	if err := validation.Struct(msg); err != nil {
		return nil, err
	}

	sent, err := s.mailbox.SendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	sent.Owner = owner
	sent.IsRead = true
	sent.Direction = models.Outbound
	sent.CaseID = msg.CaseID

	if _, err := s.store.Insert(ctx, sent); err != nil {
		s.logger.Error("Message sent but not stored", "owner", owner, "providerMessageID", sent.ProviderMessageID, "error", err)
		s.report(ctx, "store_sent", map[string]string{"owner": owner, "provider_message_id": sent.ProviderMessageID}, err)
	}
	return sent, nil
}

func (s *Syncer) report(ctx context.Context, op string, fields map[string]string, err error) {
	if s.reporter != nil {
		s.reporter.ReportFailure(ctx, op, fields, err)
	}
}
