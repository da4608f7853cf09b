package server

import (
	"errors"

	"docketra/internal/mailsync"
	"docketra/internal/models"
	"docketra/internal/runlog"
	"docketra/internal/store"
	"docketra/internal/threads"
	"docketra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type updateEmailRequest struct {
	IsRead *bool `json:"is_read"`
	// CaseID links the message to a case; an empty string unlinks it.
	CaseID *string `json:"case_id"`
}

func (s *Server) mailSyncer(mailbox mailsync.Mailbox) *mailsync.Syncer {
	var opts []mailsync.Option
	if s.Reporter != nil {
		opts = append(opts, mailsync.WithReporter(s.Reporter))
	}
	return mailsync.NewSyncer(s.Logger, s.Emails, mailbox, opts...)
}

// syncEmail pulls the caller's recent mail. Like calendar sync it always
// answers 200 with what was stored.
func (s *Server) syncEmail(c *fiber.Ctx) error {
	owner := ownerOf(c)
	ctx := c.UserContext()
	entry := runlog.Entry{Owner: owner, Kind: runlog.KindMail, StartedAt: s.now()}

	mailbox, err := s.Providers.Mailbox(ctx, owner)
	if err != nil {
		s.Logger.Error("Could not build mailbox client", "owner", owner, "error", err)
		s.report(ctx, "mailbox_client", map[string]string{"owner": owner}, err)
		entry.Failed = 1
		entry.FinishedAt = s.now()
		s.record(ctx, entry)
		return c.JSON(mailsync.Result{})
	}

	res := s.mailSyncer(mailbox).Sync(ctx, owner, s.cfg.EmailSyncMax)
	entry.Synced, entry.Total = res.Synced, res.Total
	entry.FinishedAt = s.now()
	s.record(ctx, entry)
	return c.JSON(res)
}

func (s *Server) listThreads(c *fiber.Ctx) error {
	emails, err := s.Emails.List(c.UserContext(), ownerOf(c), store.ListFilter{
		CaseID: c.Query("case_id"),
		Limit:  c.QueryInt("limit", 500),
	})
	if err != nil {
		return err
	}
	grouped := threads.Group(emails)
	if grouped == nil {
		grouped = []*models.Thread{}
	}
	return c.JSON(grouped)
}

func (s *Server) getEmail(c *fiber.Ctx) error {
	e, err := s.Emails.Get(c.UserContext(), ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(e)
}

// updateEmail changes the read flag or case link, the only mutable fields.
func (s *Server) updateEmail(c *fiber.Ctx) error {
	var req updateEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.IsRead == nil && req.CaseID == nil {
		return fiber.NewError(fiber.StatusBadRequest, "nothing to update")
	}

	ctx := c.UserContext()
	owner, id := ownerOf(c), c.Params("id")
	if req.IsRead != nil {
		if err := s.Emails.SetRead(ctx, owner, id, *req.IsRead); err != nil {
			return err
		}
	}
	if req.CaseID != nil {
		caseID := req.CaseID
		if *caseID == "" {
			caseID = nil
		}
		if err := s.Emails.LinkCase(ctx, owner, id, caseID); err != nil {
			return err
		}
	}

	e, err := s.Emails.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

func (s *Server) sendEmail(c *fiber.Ctx) error {
	var msg models.OutgoingMessage
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := validation.Struct(&msg); err != nil {
		return err
	}

	owner := ownerOf(c)
	ctx := c.UserContext()
	mailbox, err := s.Providers.Mailbox(ctx, owner)
	if err != nil {
		s.Logger.Error("Could not build mailbox client", "owner", owner, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "mail provider unavailable")
	}

	sent, err := s.mailSyncer(mailbox).Send(ctx, owner, &msg)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return err
		}
		s.Logger.Error("Send failed", "owner", owner, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "could not send message")
	}
	return c.Status(fiber.StatusCreated).JSON(sent)
}
