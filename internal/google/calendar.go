package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docketra/internal/models"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// Private extended properties carrying fields Google has no slot for.
	propEventType = "docketraType"
	propCaseID    = "docketraCaseId"
	propEventID   = "docketraEventId"

	dateLayout = "2006-01-02"
)

// ErrCalendarNotFound is returned when the configured calendar id is not on
// the user's account.
var ErrCalendarNotFound = errors.New("calendar not found on account")

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	loc        *time.Location
}

// NewCalendarClient creates a Google Calendar client for one user's calendar.
// Tokens are refreshed by ts before each call. loc is the zone all-day dates
// are interpreted in. Extra options are appended after the token source.
func NewCalendarClient(ctx context.Context, logger *slog.Logger, ts oauth2.TokenSource, calendarID string, loc *time.Location, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarClient{service: service, logger: logger, calendarID: calendarID, loc: loc}, nil
}

// ListEvents fetches every event in w, including cancelled ones so that
// deletions propagate. Recurring events are expanded into instances.
func (c *CalendarClient) ListEvents(ctx context.Context, w models.Window) ([]*models.RemoteEvent, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "min", w.Min, "max", w.Max)

	var out []*models.RemoteEvent
	call := c.service.Events.List(c.calendarID).
		ShowDeleted(true).
		SingleEvents(true).
		TimeMin(w.Min.Format(time.RFC3339)).
		TimeMax(w.Max.Format(time.RFC3339))

	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, err := fromGoogle(item, c.loc)
			if err != nil {
				c.logger.Warn("Skipping malformed Google event", "id", item.Id, "error", err)
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(out), "calendarID", c.calendarID)
	return out, nil
}

// InsertEvent creates ev in the calendar and returns the Google event id.
func (c *CalendarClient) InsertEvent(ctx context.Context, ev *models.Event) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, toGoogle(ev, c.loc)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	c.logger.Debug("Created Google event", "eventID", ev.ID, "remoteID", created.Id)
	return created.Id, nil
}

// UpdateEvent replaces the Google event remoteID with the fields of ev.
func (c *CalendarClient) UpdateEvent(ctx context.Context, remoteID string, ev *models.Event) error {
	if _, err := c.service.Events.Update(c.calendarID, remoteID, toGoogle(ev, c.loc)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	c.logger.Debug("Updated Google event", "eventID", ev.ID, "remoteID", remoteID)
	return nil
}

// Calendars lists the ids of every calendar on the account.
func (c *CalendarClient) Calendars(ctx context.Context) ([]string, error) {
	var calendarIDs []string
	err := c.service.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			calendarIDs = append(calendarIDs, item.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendarIDs, nil
}

// CheckCalendar confirms the configured calendar is on the account. The
// primary calendar always exists.
func (c *CalendarClient) CheckCalendar(ctx context.Context) error {
	if c.calendarID == "primary" {
		return nil
	}
	ids, err := c.Calendars(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == c.calendarID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (account has %d calendars)", ErrCalendarNotFound, c.calendarID, len(ids))
}

// fromGoogle converts a Google Calendar event to the internal remote shape.
func fromGoogle(item *calendar.Event, loc *time.Location) (*models.RemoteEvent, error) {
	ev := &models.RemoteEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Cancelled:   item.Status == "cancelled",
		Type:        models.EventMeeting,
	}

	if item.Updated != "" {
		updated, err := time.Parse(time.RFC3339, item.Updated)
		if err != nil {
			return nil, fmt.Errorf("bad updated timestamp %q: %w", item.Updated, err)
		}
		ev.Updated = updated
	}

	if item.ExtendedProperties != nil {
		ev.Type = models.ParseEventType(item.ExtendedProperties.Private[propEventType])
		if caseID := item.ExtendedProperties.Private[propCaseID]; caseID != "" {
			ev.CaseID = &caseID
		}
		ev.LocalID = item.ExtendedProperties.Private[propEventID]
	}

	if item.Start != nil {
		start, allDay, err := parseEventTime(item.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("bad start: %w", err)
		}
		ev.StartsAt = start
		ev.AllDay = allDay
	}
	if item.End != nil {
		end, _, err := parseEventTime(item.End, loc)
		if err != nil {
			return nil, fmt.Errorf("bad end: %w", err)
		}
		if !end.IsZero() {
			ev.EndsAt = &end
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func parseEventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	switch {
	case dt.DateTime != "":
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	case dt.Date != "":
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		return t, true, err
	default:
		return time.Time{}, false, nil
	}
}

// toGoogle converts a local event to a Google Calendar event. All-day events
// use date values; Google treats the end date as exclusive.
func toGoogle(ev *models.Event, loc *time.Location) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{propEventType: string(ev.Type)},
		},
	}
	if ev.CaseID != nil {
		out.ExtendedProperties.Private[propCaseID] = *ev.CaseID
	}
	if ev.ID != "" {
		out.ExtendedProperties.Private[propEventID] = ev.ID
	}

	if ev.AllDay {
		start := ev.StartsAt.In(loc)
		end := start.AddDate(0, 0, 1)
		if ev.EndsAt != nil && ev.EndsAt.In(loc).After(start) {
			end = ev.EndsAt.In(loc)
		}
		out.Start = &calendar.EventDateTime{Date: start.Format(dateLayout)}
		out.End = &calendar.EventDateTime{Date: end.Format(dateLayout)}
		return out
	}

	end := ev.StartsAt.Add(time.Hour)
	if ev.EndsAt != nil {
		end = *ev.EndsAt
	}
	out.Start = &calendar.EventDateTime{DateTime: ev.StartsAt.Format(time.RFC3339)}
	out.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)}
	return out
}
