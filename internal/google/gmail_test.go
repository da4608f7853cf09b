package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docketra/internal/models"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestFromGmail(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m-1",
		ThreadId:     "t-1",
		InternalDate: time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC).UnixMilli(),
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Settlement offer"},
				{Name: "From", Value: "Opposing Counsel <oc@lawfirm.com>"},
				{Name: "To", Value: "alice@firm.com, Bob <bob@firm.com>"},
				{Name: "Cc", Value: "paralegal@firm.com"},
				{Name: "In-Reply-To", Value: "<root@lawfirm.com>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html body</p>")}},
			},
		},
	}

	e := fromGmail(msg)
	assert.Equal(t, "m-1", e.ProviderMessageID)
	assert.Equal(t, "t-1", e.ThreadID)
	assert.Equal(t, "Settlement offer", e.Subject)
	assert.Equal(t, "oc@lawfirm.com", e.From)
	assert.Equal(t, []string{"alice@firm.com", "bob@firm.com"}, e.To)
	assert.Equal(t, []string{"paralegal@firm.com"}, e.Cc)
	assert.Equal(t, "<root@lawfirm.com>", e.InReplyTo)
	assert.Equal(t, "plain body", e.BodyText)
	assert.Equal(t, "<p>html body</p>", e.BodyHTML)
	assert.False(t, e.IsRead)
	assert.Equal(t, models.Inbound, e.Direction)
	assert.True(t, e.SentAt.Equal(time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)))
}

func TestFromGmailSentLabel(t *testing.T) {
	e := fromGmail(&gmail.Message{Id: "m-2", LabelIds: []string{"SENT"}})
	assert.Equal(t, models.Outbound, e.Direction)
	assert.True(t, e.IsRead)
}

func TestDecodeBase64URLWithoutPadding(t *testing.T) {
	assert.Equal(t, "ab", decodeBase64URL(base64.RawURLEncoding.EncodeToString([]byte("ab"))))
	assert.Equal(t, "", decodeBase64URL("%%%"))
}

func TestBuildMIMEPlain(t *testing.T) {
	raw, err := buildMIME("alice@firm.com", &models.OutgoingMessage{
		To:        []string{"client@acme.com"},
		Cc:        []string{"bob@firm.com"},
		Subject:   "Re: Discovery",
		Body:      "See attached schedule.",
		InReplyTo: "<m1@acme.com>",
	}, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Discovery", subject)
	assert.Equal(t, "<m1@acme.com>", r.Header.Get("In-Reply-To"))

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "client@acme.com", to[0].Address)

	p, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Equal(t, "See attached schedule.", string(body))
}

func TestBuildMIMEAlternative(t *testing.T) {
	raw, err := buildMIME("alice@firm.com", &models.OutgoingMessage{
		To:      []string{"client@acme.com"},
		Subject: "Update",
		Body:    "plain",
		HTML:    "<b>rich</b>",
	}, time.Now())
	require.NoError(t, err)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	var bodies []string
	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, []string{"plain", "<b>rich</b>"}, bodies)
}

type memTokens struct {
	saved []*oauth2.Token
	tok   *oauth2.Token
}

func (m *memTokens) Load(context.Context, string, string) (*oauth2.Token, error) {
	if m.tok == nil {
		return nil, errors.New("missing")
	}
	return m.tok, nil
}

func (m *memTokens) Save(_ context.Context, _, _ string, tok *oauth2.Token) error {
	m.saved = append(m.saved, tok)
	return nil
}

func TestTokenSourceRequiresStoredToken(t *testing.T) {
	cfg, err := OAuthConfig("id", "secret", "")
	require.NoError(t, err)

	_, err = TokenSource(context.Background(), cfg, &memTokens{}, "alice")
	assert.Error(t, err)
}

func TestTokenSourceDoesNotSaveUnchangedToken(t *testing.T) {
	cfg, err := OAuthConfig("id", "secret", "")
	require.NoError(t, err)

	store := &memTokens{tok: &oauth2.Token{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}}
	ts, err := TokenSource(context.Background(), cfg, store, "alice")
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "valid", tok.AccessToken)
	assert.Empty(t, store.saved)
}

func TestGmailClientRoundTrip(t *testing.T) {
	var sent gmail.Message
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
		_ = json.NewEncoder(w).Encode(gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m-1"}, {Id: "m-gone"}}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		_ = json.NewEncoder(w).Encode(gmail.Message{Id: "m-1", ThreadId: "t-1", Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: "Hello"}},
		}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m-gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	})
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gmail.Profile{EmailAddress: "alice@firm.com"})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_ = json.NewEncoder(w).Encode(gmail.Message{Id: "m-sent", ThreadId: "t-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"})
	c, err := NewGmailClient(ctx, discardLogger(), ts, "",
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	emails, err := c.ListMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "Hello", emails[0].Subject)

	e, err := c.SendMessage(ctx, &models.OutgoingMessage{To: []string{"client@acme.com"}, Subject: "Re: Hello", Body: "Hi", ThreadID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "m-sent", e.ProviderMessageID)
	assert.Equal(t, "alice@firm.com", e.From)
	assert.Equal(t, "t-1", sent.ThreadId)

	raw, err := base64.URLEncoding.DecodeString(sent.Raw)
	require.NoError(t, err)
	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	from, err := r.Header.AddressList("From")
	require.NoError(t, err)
	assert.Equal(t, "alice@firm.com", from[0].Address)
}
