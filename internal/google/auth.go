package google

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// ProviderName is the key Google tokens are stored under.
const ProviderName = "google"

const credentialsFile = "credentials.json"

// Scopes requested from the user: read/write calendar, read and send mail.
var Scopes = []string{
	calendar.CalendarEventsScope,
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
}

// TokenStore persists per-user tokens.
type TokenStore interface {
	Load(ctx context.Context, owner, provider string) (*oauth2.Token, error)
	Save(ctx context.Context, owner, provider string, tok *oauth2.Token) error
}

// OAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes explicit client credentials over a local credentials.json file.
func OAuthConfig(clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	if redirectURL == "" {
		redirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL
	return config, nil
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenSource returns a refreshing token source for owner. Tokens rotated
// by a refresh are written back to the store so the next request reuses them.
func TokenSource(ctx context.Context, config *oauth2.Config, tokens TokenStore, owner string) (oauth2.TokenSource, error) {
	tok, err := tokens.Load(ctx, owner, ProviderName)
	if err != nil {
		return nil, fmt.Errorf("could not load google token for %s: %w. Please run the 'auth' command first", owner, err)
	}
	return &savingTokenSource{
		ctx:    ctx,
		base:   config.TokenSource(ctx, tok),
		tokens: tokens,
		owner:  owner,
		last:   tok.AccessToken,
	}, nil
}

type savingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	tokens TokenStore
	owner  string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.tokens.Save(s.ctx, s.owner, ProviderName, tok); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
