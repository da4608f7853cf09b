package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"strings"
	"time"

	"docketra/internal/models"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// GmailClient reads and sends mail through the Gmail API.
type GmailClient struct {
	service *gmail.Service
	logger  *slog.Logger
	from    string
}

// NewGmailClient creates a Gmail client. from is the owner's address, used
// as the From header on sent mail; when empty it is read from the account
// profile on first send.
func NewGmailClient(ctx context.Context, logger *slog.Logger, ts oauth2.TokenSource, from string, opts ...option.ClientOption) (*GmailClient, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailClient{service: service, logger: logger, from: from}, nil
}

// ListMessages returns up to max of the most recent messages. A message
// that cannot be fetched or parsed is logged and skipped.
func (c *GmailClient) ListMessages(ctx context.Context, max int64) ([]*models.Email, error) {
	list, err := c.service.Users.Messages.List(gmailUser).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var out []*models.Email
	for _, ref := range list.Messages {
		msg, err := c.service.Users.Messages.Get(gmailUser, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			c.logger.Error("Could not fetch Gmail message", "id", ref.Id, "error", err)
			continue
		}
		out = append(out, fromGmail(msg))
	}
	c.logger.Info("Successfully fetched messages from Gmail", "count", len(out))
	return out, nil
}

// SendMessage sends msg and returns the provider's view of the sent copy.
func (c *GmailClient) SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.Email, error) {
	from, err := c.sender(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := buildMIME(from, msg, time.Now())
	if err != nil {
		return nil, err
	}

	sent, err := c.service.Users.Messages.Send(gmailUser, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: msg.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &models.Email{
		ProviderMessageID: sent.Id,
		ThreadID:          sent.ThreadId,
		Subject:           msg.Subject,
		From:              from,
		To:                msg.To,
		Cc:                msg.Cc,
		BodyText:          msg.Body,
		BodyHTML:          msg.HTML,
		SentAt:            time.Now().UTC(),
		IsRead:            true,
		Direction:         models.Outbound,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
	}, nil
}

func (c *GmailClient) sender(ctx context.Context) (string, error) {
	if c.from != "" {
		return c.from, nil
	}
	profile, err := c.service.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read account profile: %w", err)
	}
	c.from = profile.EmailAddress
	return c.from, nil
}

// fromGmail converts a Gmail API message to the internal email shape.
func fromGmail(msg *gmail.Message) *models.Email {
	e := &models.Email{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		SentAt:            time.UnixMilli(msg.InternalDate).UTC(),
		IsRead:            true,
		Direction:         models.Inbound,
	}
	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
			e.IsRead = false
		case "SENT":
			e.Direction = models.Outbound
		}
	}

	if msg.Payload == nil {
		return e
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			e.Subject = h.Value
		case "from":
			e.From = firstAddress(h.Value)
		case "to":
			e.To = addressList(h.Value)
		case "cc":
			e.Cc = addressList(h.Value)
		case "in-reply-to":
			e.InReplyTo = h.Value
		case "references":
			e.References = h.Value
		}
	}
	collectBodies(msg.Payload, e)
	return e
}

// collectBodies walks the MIME tree and keeps the first text and HTML parts.
func collectBodies(part *gmail.MessagePart, e *models.Email) {
	if part.Body != nil && part.Body.Data != "" {
		data := decodeBase64URL(part.Body.Data)
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && e.BodyText == "":
			e.BodyText = data
		case strings.HasPrefix(part.MimeType, "text/html") && e.BodyHTML == "":
			e.BodyHTML = data
		}
	}
	for _, p := range part.Parts {
		collectBodies(p, e)
	}
}

func decodeBase64URL(s string) string {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return string(b)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(b)
}

func addressList(v string) []string {
	addrs, err := netmail.ParseAddressList(v)
	if err != nil {
		return []string{strings.TrimSpace(v)}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func firstAddress(v string) string {
	if list := addressList(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

// buildMIME renders msg as an RFC 5322 message.
func buildMIME(from string, msg *models.OutgoingMessage, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", toAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		h.SetAddressList("Bcc", toAddresses(msg.Bcc))
	}
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		h.Set("References", msg.References)
	}

	var buf bytes.Buffer
	if msg.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", msg.Body},
		{"text/html", msg.HTML},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
