package server

import (
	"errors"
	"fmt"
	"time"

	"docketra/internal/models"
	"docketra/internal/runlog"
	"docketra/internal/syncer"

	"github.com/gofiber/fiber/v2"
)

// windowFrom reads optional from/to RFC 3339 bounds, filling missing ones
// from the default window.
func (s *Server) windowFrom(c *fiber.Ctx) (models.Window, error) {
	w := s.cfg.Window(s.cfg.Now())
	for _, bound := range []struct {
		param string
		dst   *time.Time
	}{{"from", &w.Min}, {"to", &w.Max}} {
		v := c.Query(bound.param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.Window{}, fmt.Errorf("%s must be an RFC 3339 timestamp", bound.param)
		}
		*bound.dst = t
	}
	return w, nil
}

// syncCalendar runs one reconciliation pass for the caller. Provider
// failures never fail the request; the counts say what succeeded.
func (s *Server) syncCalendar(c *fiber.Ctx) error {
	owner := ownerOf(c)
	ctx := c.UserContext()

	w, err := s.windowFrom(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if !w.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, syncer.ErrInvalidWindow.Error())
	}
	dryRun := c.QueryBool("dry_run", false)

	entry := runlog.Entry{Owner: owner, Kind: runlog.KindCalendar, StartedAt: s.now(), DryRun: dryRun}

	remote, err := s.Providers.Calendar(ctx, owner)
	if err != nil {
		s.Logger.Error("Could not build calendar client", "owner", owner, "error", err)
		s.report(ctx, "calendar_client", map[string]string{"owner": owner}, err)
		entry.Failed = 1
		entry.FinishedAt = s.now()
		s.record(ctx, entry)
		return c.JSON(syncer.Result{})
	}

	opts := []syncer.Option{syncer.WithDryRun(dryRun)}
	if s.Reporter != nil {
		opts = append(opts, syncer.WithReporter(s.Reporter))
	}
	res, err := syncer.NewSyncer(s.Logger, s.Events, remote, opts...).Reconcile(ctx, owner, w)
	if errors.Is(err, syncer.ErrInvalidWindow) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}

	entry.Pushed, entry.Pulled, entry.Failed = res.Pushed, res.Pulled, res.Failed
	entry.FinishedAt = s.now()
	s.record(ctx, entry)
	return c.JSON(res)
}

func (s *Server) calendarStatus(c *fiber.Ctx) error {
	return s.lastRun(c, runlog.KindCalendar)
}

func (s *Server) emailStatus(c *fiber.Ctx) error {
	return s.lastRun(c, runlog.KindMail)
}

func (s *Server) lastRun(c *fiber.Ctx, kind string) error {
	if s.Runs == nil {
		return fiber.NewError(fiber.StatusNotFound, "no sync has run yet")
	}
	e, err := s.Runs.Last(c.UserContext(), ownerOf(c), kind)
	if errors.Is(err, runlog.ErrNoRun) {
		return fiber.NewError(fiber.StatusNotFound, "no sync has run yet")
	}
	if err != nil {
		return err
	}
	return c.JSON(e)
}
