package models

import "time"

// Direction records whether a message was received or sent by the owner.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Email is one provider message stored for a user. After creation only the
// read flag and case link change.
type Email struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Owner             string    `gorm:"not null;index;uniqueIndex:idx_emails_owner_provider,priority:1" json:"owner"`
	ProviderMessageID string    `gorm:"not null;uniqueIndex:idx_emails_owner_provider,priority:2" json:"provider_message_id"`
	ThreadID          string    `gorm:"index" json:"thread_id,omitempty"`
	Subject           string    `json:"subject"`
	From              string    `gorm:"column:sender;not null" json:"from"`
	To                []string  `gorm:"column:recipients;serializer:json" json:"to"`
	Cc                []string  `gorm:"serializer:json" json:"cc,omitempty"`
	BodyText          string    `gorm:"type:text" json:"body_text"`
	BodyHTML          string    `gorm:"type:text" json:"body_html,omitempty"`
	SentAt            time.Time `gorm:"not null;index" json:"sent_at"`
	IsRead            bool      `gorm:"default:false" json:"is_read"`
	Direction         Direction `gorm:"type:varchar(16);not null" json:"direction"`
	CaseID            *string   `gorm:"index" json:"case_id,omitempty"`
	InReplyTo         string    `json:"in_reply_to,omitempty"`
	References        string    `gorm:"type:text" json:"references,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Thread is a conversation assembled from stored emails.
type Thread struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Senders       []string  `json:"senders"`
	Unread        bool      `json:"unread"`
	LastMessageAt time.Time `json:"last_message_at"`
	// Emails are ordered newest first.
	Emails []*Email `json:"emails"`
}

// Chronological returns the members oldest first, for rendering a conversation.
func (t *Thread) Chronological() []*Email {
	out := make([]*Email, len(t.Emails))
	for i, e := range t.Emails {
		out[len(t.Emails)-1-i] = e
	}
	return out
}

// OutgoingMessage is a message the owner asks to send through their mailbox.
type OutgoingMessage struct {
	To         []string `json:"to" validate:"required,min=1,dive,email"`
	Cc         []string `json:"cc" validate:"omitempty,dive,email"`
	Bcc        []string `json:"bcc" validate:"omitempty,dive,email"`
	Subject    string   `json:"subject" validate:"required,max=998"`
	Body       string   `json:"body" validate:"required"`
	HTML       string   `json:"html"`
	InReplyTo  string   `json:"in_reply_to"`
	References string   `json:"references"`
	ThreadID   string   `json:"thread_id"`
	CaseID     *string  `json:"case_id"`
}

// ProviderToken holds the OAuth token a user granted for a provider.
type ProviderToken struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Owner        string    `gorm:"not null;uniqueIndex:idx_tokens_owner_provider,priority:1" json:"owner"`
	Provider     string    `gorm:"not null;uniqueIndex:idx_tokens_owner_provider,priority:2" json:"provider"`
	AccessToken  string    `gorm:"type:text" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	UpdatedAt    time.Time `json:"updated_at"`
}
