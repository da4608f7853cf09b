package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"docketra/internal/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Options configures the IMAP account used for reading and the SMTP relay
// used for sending.
type Options struct {
	IMAPAddr string
	TLS      bool
	Folder   string
	Username string
	Password string

	SMTPHost string
	SMTPPort int
	From     string

	Timeout time.Duration
}

// smtpSender is satisfied by *gomail.Dialer.
type smtpSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailbox reads a mail folder over IMAP and sends through SMTP.
type Mailbox struct {
	opts   Options
	logger *slog.Logger
	smtp   smtpSender
	now    func() time.Time
}

// NewMailbox returns a Mailbox. No connection is made until a call needs one.
func NewMailbox(logger *slog.Logger, opts Options) *Mailbox {
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Mailbox{
		opts:   opts,
		logger: logger,
		smtp:   gomail.NewDialer(opts.SMTPHost, opts.SMTPPort, opts.Username, opts.Password),
		now:    time.Now,
	}
}

func (m *Mailbox) connect(ctx context.Context) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	if m.opts.TLS {
		c, err = client.DialTLS(m.opts.IMAPAddr, nil)
	} else {
		c, err = client.Dial(m.opts.IMAPAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("IMAP connection error: %w", err)
	}
	c.Timeout = m.opts.Timeout

	if err := c.Login(m.opts.Username, m.opts.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}

	// go-imap has no context support; drop the connection on cancel.
	go func() {
		<-ctx.Done()
		_ = c.Terminate()
	}()
	return c, nil
}

// ListMessages fetches up to max of the newest messages in the folder
// without changing their seen state. Messages that fail to parse are
// logged and skipped.
func (m *Mailbox) ListMessages(ctx context.Context, max int64) ([]*models.Email, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mbox, err := c.Select(m.opts.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", m.opts.Folder, err)
	}
	if mbox.Messages == 0 || max <= 0 {
		return nil, nil
	}

	from := uint32(1)
	if int64(mbox.Messages) > max {
		from = mbox.Messages - uint32(max) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var out []*models.Email
	for msg := range messages {
		e, err := parseMessage(msg, m.opts.From)
		if err != nil {
			m.logger.Warn("Skipping unparseable IMAP message", "uid", msg.Uid, "error", err)
			continue
		}
		if e.ProviderMessageID == "" {
			e.ProviderMessageID = fmt.Sprintf("uid:%d:%d", mbox.UidValidity, msg.Uid)
		}
		out = append(out, e)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching messages: %w", err)
	}

	m.logger.Info("Successfully fetched messages over IMAP", "count", len(out), "folder", m.opts.Folder)
	return out, nil
}

// SendMessage relays msg through SMTP and returns the stored form of the
// sent copy. The provider id is the generated Message-Id.
func (m *Mailbox) SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	messageID := newMessageID(m.opts.From)

	gm := newMessage(m.opts.From, messageID, msg, now)
	if err := m.smtp.DialAndSend(gm); err != nil {
		return nil, fmt.Errorf("error sending email: %w", err)
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = threadRoot(messageID, splitIDs(msg.InReplyTo), splitIDs(msg.References))
	}
	return &models.Email{
		ProviderMessageID: messageID,
		ThreadID:          threadID,
		Subject:           msg.Subject,
		From:              m.opts.From,
		To:                msg.To,
		Cc:                msg.Cc,
		BodyText:          msg.Body,
		BodyHTML:          msg.HTML,
		SentAt:            now,
		IsRead:            true,
		Direction:         models.Outbound,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
	}, nil
}

func newMessage(from, messageID string, msg *models.OutgoingMessage, now time.Time) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", from)
	gm.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		gm.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		gm.SetHeader("Bcc", msg.Bcc...)
	}
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", "<"+messageID+">")
	if msg.InReplyTo != "" {
		gm.SetHeader("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		gm.SetHeader("References", msg.References)
	}
	gm.SetDateHeader("Date", now)
	gm.SetBody("text/plain", msg.Body)
	if msg.HTML != "" {
		gm.AddAlternative("text/html", msg.HTML)
	}
	return gm
}

func newMessageID(from string) string {
	domain := "docketra.local"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return uuid.New().String() + "@" + domain
}

// parseMessage converts a fetched message. self is the mailbox owner's
// address and marks messages they sent as outbound.
func parseMessage(msg *imap.Message, self string) (*models.Email, error) {
	r := msg.GetBody(&imap.BodySectionName{})
	if r == nil {
		return nil, errors.New("message body not found")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create message reader: %w", err)
	}
	defer mr.Close()

	e := &models.Email{
		IsRead:    hasFlag(msg.Flags, imap.SeenFlag),
		Direction: models.Inbound,
		SentAt:    msg.InternalDate.UTC(),
	}

	h := mr.Header
	if subject, err := h.Subject(); err == nil {
		e.Subject = subject
	} else {
		e.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	e.To = addresses(h, "To")
	e.Cc = addresses(h, "Cc")
	if date, err := h.Date(); err == nil && !date.IsZero() {
		e.SentAt = date.UTC()
	}
	e.InReplyTo = h.Get("In-Reply-To")
	e.References = h.Get("References")

	messageID, _ := h.MessageID()
	if messageID == "" && msg.Envelope != nil {
		messageID = strings.Trim(msg.Envelope.MessageId, "<>")
	}
	e.ProviderMessageID = messageID

	inReplyTo, _ := h.MsgIDList("In-Reply-To")
	references, _ := h.MsgIDList("References")
	e.ThreadID = threadRoot(messageID, inReplyTo, references)

	if self != "" && strings.EqualFold(e.From, self) {
		e.Direction = models.Outbound
		e.IsRead = true
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := ih.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case contentType == "text/html" && e.BodyHTML == "":
			e.BodyHTML = string(b)
		case (contentType == "text/plain" || contentType == "") && e.BodyText == "":
			e.BodyText = string(b)
		}
	}
	return e, nil
}

// threadRoot picks the Message-Id that started the conversation: the first
// References entry, else the parent, else the message itself.
func threadRoot(messageID string, inReplyTo, references []string) string {
	if len(references) > 0 {
		return references[0]
	}
	if len(inReplyTo) > 0 {
		return inReplyTo[0]
	}
	return messageID
}

func splitIDs(v string) []string {
	var out []string
	for _, f := range strings.Fields(v) {
		if id := strings.Trim(f, "<>,"); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
