package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"docketra/internal/mailsync"
	"docketra/internal/models"
	"docketra/internal/runlog"
	"docketra/internal/store"
	"docketra/internal/syncer"
	"docketra/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// EventRepo is the local event table as the handlers use it.
type EventRepo interface {
	syncer.EventStore
}

// EmailRepo is the stored mail as the handlers use it.
type EmailRepo interface {
	mailsync.EmailStore
	List(ctx context.Context, owner string, f store.ListFilter) ([]*models.Email, error)
	Get(ctx context.Context, owner, id string) (*models.Email, error)
	SetRead(ctx context.Context, owner, id string, read bool) error
	LinkCase(ctx context.Context, owner, id string, caseID *string) error
}

// Providers builds request-scoped provider clients for a user.
type Providers interface {
	Calendar(ctx context.Context, owner string) (syncer.RemoteCalendar, error)
	Mailbox(ctx context.Context, owner string) (mailsync.Mailbox, error)
}

// Reporter receives failures that were logged and skipped.
type Reporter interface {
	ReportFailure(ctx context.Context, op string, fields map[string]string, err error)
}

// breadcrumber is implemented by reporters that also keep run history.
type breadcrumber interface {
	Breadcrumb(category string, data map[string]interface{})
}

// Deps are the collaborators the handlers need. Reporter may be nil.
type Deps struct {
	Logger    *slog.Logger
	Events    EventRepo
	Emails    EmailRepo
	Providers Providers
	Runs      runlog.Log
	Reporter  Reporter
}

// Config tunes the HTTP surface.
type Config struct {
	// RateLimitSync is the number of sync calls a user may make per minute.
	RateLimitSync int
	EmailSyncMax  int64
	Window        func(now time.Time) models.Window
	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	AccessLog      io.Writer
	Now            func() time.Time
}

type Server struct {
	Deps
	cfg Config
}

// New builds the Fiber app with every route registered.
func New(deps Deps, cfg Config) *fiber.App {
	if cfg.Window == nil {
		cfg.Window = models.DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = os.Stdout
	}
	if cfg.RateLimitSync <= 0 {
		cfg.RateLimitSync = 10
	}
	if cfg.EmailSyncMax <= 0 {
		cfg.EmailSyncMax = 50
	}
	s := &Server{Deps: deps, cfg: cfg}

	app := fiber.New(fiber.Config{
		AppName:      "docketra",
		ErrorHandler: s.handleError,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: cfg.AccessLog,
	}), RequireUser())

	limit := SyncLimiter(cfg.RateLimitSync, cfg.LimiterStorage)

	calendar := api.Group("/calendar")
	calendar.Post("/sync", limit, s.syncCalendar)
	calendar.Get("/sync/status", s.calendarStatus)

	events := api.Group("/events")
	events.Get("/", s.listEvents)
	events.Post("/", s.createEvent)
	events.Get("/:id", s.getEvent)
	events.Patch("/:id", s.updateEvent)
	events.Delete("/:id", s.deleteEvent)

	email := api.Group("/email")
	email.Post("/sync", limit, s.syncEmail)
	email.Get("/sync/status", s.emailStatus)
	email.Get("/threads", s.listThreads)
	email.Post("/send", s.sendEmail)
	email.Get("/:id", s.getEmail)
	email.Patch("/:id", s.updateEmail)

	return app
}

// handleError maps domain errors to status codes. Anything unrecognised is
// logged and hidden behind a 500.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var verr *validation.Error
	var ferr *fiber.Error
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation failed", "problems": verr.Problems})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.As(err, &ferr):
		return c.Status(ferr.Code).JSON(fiber.Map{"error": ferr.Message})
	}
	s.Logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func (s *Server) now() time.Time {
	return s.cfg.Now().UTC().Truncate(time.Microsecond)
}

func (s *Server) report(ctx context.Context, op string, fields map[string]string, err error) {
	if s.Reporter != nil {
		s.Reporter.ReportFailure(ctx, op, fields, err)
	}
}

// record stores the run summary. A failure here never fails the request.
func (s *Server) record(ctx context.Context, e runlog.Entry) {
	if b, ok := s.Reporter.(breadcrumber); ok {
		b.Breadcrumb("sync."+e.Kind, map[string]interface{}{
			"owner": e.Owner, "pushed": e.Pushed, "pulled": e.Pulled, "synced": e.Synced, "failed": e.Failed,
		})
	}
	if s.Runs == nil {
		return
	}
	if err := s.Runs.Record(ctx, e); err != nil {
		s.Logger.Warn("Could not record sync run", "owner", e.Owner, "kind", e.Kind, "error", err)
	}
}
