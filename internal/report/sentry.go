package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init configures the global Sentry client. With an empty DSN nothing is
// sent. The returned func flushes buffered events and should be deferred.
func Init(dsn, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "docketra",
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Sentry forwards skipped sync failures to Sentry as exceptions tagged with
// the failing operation and its identifying fields.
type Sentry struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

// NewSentry reports through hub, or the current hub when nil.
func NewSentry(logger *slog.Logger, hub *sentry.Hub) *Sentry {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &Sentry{hub: hub, logger: logger}
}

func (s *Sentry) ReportFailure(ctx context.Context, op string, fields map[string]string, err error) {
	hub := s.hub
	if h := sentry.GetHubFromContext(ctx); h != nil {
		hub = h
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", op)
		scope.SetTags(fields)
		scope.SetLevel(sentry.LevelWarning)
		if id := hub.CaptureException(err); id != nil {
			s.logger.Debug("Reported sync failure", "op", op, "sentryEventID", string(*id))
		}
	})
}

// Breadcrumb records a finished run so later failures carry its context.
func (s *Sentry) Breadcrumb(category string, data map[string]interface{}) {
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  category,
		Data:      data,
		Timestamp: time.Now(),
	}, nil)
}
