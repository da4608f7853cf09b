// Package providers builds a user's calendar and mailbox clients for the
// configured backends. Clients are request scoped: they hold the user's
// refreshed token and are discarded after the call.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"docketra/internal/config"
	"docketra/internal/google"
	"docketra/internal/icloud"
	"docketra/internal/imap"
	"docketra/internal/mailsync"
	"docketra/internal/syncer"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	tokens google.TokenStore
	opts   []option.ClientOption

	once     sync.Once
	oauth    *oauth2.Config
	oauthErr error
}

// New returns a Factory. Extra Google client options apply to every Google
// client it builds.
func New(logger *slog.Logger, cfg *config.Config, tokens google.TokenStore, opts ...option.ClientOption) *Factory {
	return &Factory{cfg: cfg, logger: logger, tokens: tokens, opts: opts}
}

// OAuthConfig returns the Google OAuth client configuration.
func (f *Factory) OAuthConfig() (*oauth2.Config, error) {
	f.once.Do(func() {
		f.oauth, f.oauthErr = google.OAuthConfig(f.cfg.Google.ClientID, f.cfg.Google.ClientSecret, f.cfg.Google.RedirectURI)
	})
	return f.oauth, f.oauthErr
}

func (f *Factory) tokenSource(ctx context.Context, owner string) (oauth2.TokenSource, error) {
	oauthCfg, err := f.OAuthConfig()
	if err != nil {
		return nil, err
	}
	return google.TokenSource(ctx, oauthCfg, f.tokens, owner)
}

// Calendar returns owner's remote calendar. The CalDAV backend is a single
// configured account and ignores owner.
func (f *Factory) Calendar(ctx context.Context, owner string) (syncer.RemoteCalendar, error) {
	logger := f.logger.With("owner", owner, "provider", f.cfg.CalendarProvider)

	switch f.cfg.CalendarProvider {
	case config.CalendarGoogle:
		ts, err := f.tokenSource(ctx, owner)
		if err != nil {
			return nil, err
		}
		c, err := google.NewCalendarClient(ctx, logger, ts, f.cfg.Google.CalendarID, f.cfg.Location, f.opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CalendarCalDAV:
		c, err := icloud.NewClient(ctx, logger, icloud.Options{
			Endpoint:     f.cfg.CalDAV.Endpoint,
			Username:     f.cfg.CalDAV.Username,
			Password:     f.cfg.CalDAV.Password,
			CalendarName: f.cfg.CalDAV.CalendarName,
			Location:     f.cfg.Location,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", f.cfg.CalendarProvider)
	}
}

// VerifyCalendar checks that owner's Google account holds the configured
// calendar. CalDAV calendars are resolved by name when the client is built,
// so only that step is run for them.
func (f *Factory) VerifyCalendar(ctx context.Context, owner string) error {
	cal, err := f.Calendar(ctx, owner)
	if err != nil {
		return err
	}
	if g, ok := cal.(*google.CalendarClient); ok {
		return g.CheckCalendar(ctx)
	}
	return nil
}

// Mailbox returns owner's mail account. The IMAP backend is a single
// configured account and ignores owner.
func (f *Factory) Mailbox(ctx context.Context, owner string) (mailsync.Mailbox, error) {
	logger := f.logger.With("owner", owner, "provider", f.cfg.MailProvider)

	switch f.cfg.MailProvider {
	case config.MailGmail:
		ts, err := f.tokenSource(ctx, owner)
		if err != nil {
			return nil, err
		}
		c, err := google.NewGmailClient(ctx, logger, ts, "", f.opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.MailIMAP:
		return imap.NewMailbox(logger, imap.Options{
			IMAPAddr: f.cfg.Mail.IMAPAddr,
			TLS:      f.cfg.Mail.IMAPTLS,
			Folder:   f.cfg.Mail.IMAPFolder,
			Username: f.cfg.Mail.Username,
			Password: f.cfg.Mail.Password,
			SMTPHost: f.cfg.Mail.SMTPHost,
			SMTPPort: f.cfg.Mail.SMTPPort,
			From:     f.cfg.Mail.FromEmail,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", f.cfg.MailProvider)
	}
}
