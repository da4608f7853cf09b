package server

import (
	"time"

	"docketra/internal/models"
	"docketra/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type createEventRequest struct {
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description"`
	Type        string     `json:"type" validate:"omitempty,oneof=court_date deadline filing meeting reminder statute_of_limitations"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at" validate:"omitempty,gtfield=StartsAt"`
	AllDay      bool       `json:"all_day"`
	Location    string     `json:"location"`
	CaseID      *string    `json:"case_id"`
}

// updateEventRequest holds a partial edit; nil fields are left unchanged.
type updateEventRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Description *string    `json:"description"`
	Type        *string    `json:"type" validate:"omitempty,oneof=court_date deadline filing meeting reminder statute_of_limitations"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	AllDay      *bool      `json:"all_day"`
	Location    *string    `json:"location"`
	CaseID      *string    `json:"case_id"`
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	w, err := s.windowFrom(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if !w.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "from must be before to")
	}
	events, err := s.Events.ListRange(c.UserContext(), ownerOf(c), w)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*models.Event{}
	}
	return c.JSON(events)
}

func (s *Server) getEvent(c *fiber.Ctx) error {
	ev, err := s.Events.Get(c.UserContext(), ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ev)
}

func (s *Server) createEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}

	ev := &models.Event{
		Owner:        ownerOf(c),
		Title:        req.Title,
		Description:  req.Description,
		Type:         models.ParseEventType(req.Type),
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		AllDay:       req.AllDay,
		Location:     req.Location,
		CaseID:       req.CaseID,
		LastModified: s.now(),
	}
	if err := s.Events.Insert(c.UserContext(), ev); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ev)
}

// updateEvent applies a user edit and bumps LastModified so the next pass
// pushes it.
func (s *Server) updateEvent(c *fiber.Ctx) error {
	var req updateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}

	ctx := c.UserContext()
	ev, err := s.Events.Get(ctx, ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}

	if req.Title != nil {
		ev.Title = *req.Title
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Type != nil {
		ev.Type = models.ParseEventType(*req.Type)
	}
	if req.StartsAt != nil {
		ev.StartsAt = *req.StartsAt
	}
	if req.EndsAt != nil {
		ev.EndsAt = req.EndsAt
	}
	if req.AllDay != nil {
		ev.AllDay = *req.AllDay
	}
	if req.Location != nil {
		ev.Location = *req.Location
	}
	if req.CaseID != nil {
		ev.CaseID = req.CaseID
		if *req.CaseID == "" {
			ev.CaseID = nil
		}
	}
	if ev.EndsAt != nil && !ev.EndsAt.After(ev.StartsAt) {
		return &validation.Error{Problems: []string{"ends_at must be after starts_at"}}
	}

	ev.LastModified = s.now()
	if err := s.Events.Update(ctx, ev); err != nil {
		return err
	}
	return c.JSON(ev)
}

// deleteEvent removes the local copy only; the provider copy is kept.
func (s *Server) deleteEvent(c *fiber.Ctx) error {
	if err := s.Events.Delete(c.UserContext(), ownerOf(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
