package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"docketra/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	// ICloudEndpoint is the default CalDAV server.
	ICloudEndpoint = "https://caldav.icloud.com/"

	propEventType = "X-DOCKETRA-TYPE"
	propCaseID    = "X-DOCKETRA-CASE-ID"
	propEventID   = "X-DOCKETRA-EVENT-ID"
)

// basicAuthTransport handles adding Basic Auth and custom headers to requests.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "docketra/1.0")
	return t.Transport.RoundTrip(req)
}

// Options selects the server, account and calendar.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	Location     *time.Location
	Transport    http.RoundTripper
}

// CalDAVClient is a remote calendar backed by a CalDAV server (iCloud by default).
// Remote ids are the object paths on the server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
}

// NewClient creates a CalDAVClient and resolves the named calendar.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = ICloudEndpoint
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: opts.Transport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger,
		loc:          opts.Location,
	}

	logger.Debug("Finding CalDAV calendar", "calendarName", opts.CalendarName)
	calendarPath, err := c.findCalendar(ctx, opts.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", opts.CalendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Debug("Found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListEvents queries the calendar for events overlapping w.
func (c *CalDAVClient) ListEvents(ctx context.Context, w models.Window) ([]*models.RemoteEvent, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: w.Min,
				End:   w.Max,
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var out []*models.RemoteEvent
	for _, obj := range objects {
		ev, err := fromICal(obj.Path, obj.Data, c.loc)
		if err != nil {
			c.logger.Warn("Skipping malformed calendar object", "path", obj.Path, "error", err)
			continue
		}
		if ev.Updated.IsZero() {
			ev.Updated = obj.ModTime
		}
		out = append(out, ev)
	}
	c.logger.Info("Successfully fetched events from CalDAV", "count", len(out))
	return out, nil
}

// InsertEvent stores ev under a new UID and returns its object path.
func (c *CalDAVClient) InsertEvent(ctx context.Context, ev *models.Event) (string, error) {
	uid := GenerateUID()
	objectPath := path.Join(c.calendarPath, uid+".ics")
	if err := c.put(ctx, objectPath, uid, ev); err != nil {
		return "", err
	}
	return objectPath, nil
}

// UpdateEvent overwrites the object at remoteID, keeping its UID.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, remoteID string, ev *models.Event) error {
	uid := strings.TrimSuffix(path.Base(remoteID), ".ics")
	return c.put(ctx, remoteID, uid, ev)
}

func (c *CalDAVClient) put(ctx context.Context, objectPath, uid string, ev *models.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//docketra//EN")
	cal.Children = append(cal.Children, toICal(uid, ev, time.Now().UTC(), c.loc))

	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}
	c.logger.Debug("Wrote CalDAV event", "eventID", ev.ID, "path", objectPath)
	return nil
}

// toICal converts an internal Event model to an ical.Component (VEvent).
func toICal(uid string, event *models.Event, now time.Time, loc *time.Location) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now)
	ve.Props.SetDateTime(ical.PropLastModified, now)

	if event.AllDay {
		start := event.StartsAt.In(loc)
		end := start.AddDate(0, 0, 1)
		if event.EndsAt != nil && event.EndsAt.In(loc).After(start) {
			end = event.EndsAt.In(loc)
		}
		ve.Props.SetDate(ical.PropDateTimeStart, start)
		ve.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartsAt.UTC())
		if event.EndsAt != nil {
			ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndsAt.UTC())
		}
	}

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	ve.Props.SetText(propEventType, string(event.Type))
	if event.CaseID != nil {
		ve.Props.SetText(propCaseID, *event.CaseID)
	}
	if event.ID != "" {
		ve.Props.SetText(propEventID, event.ID)
	}
	return ve
}

// fromICal converts the first VEVENT of a calendar object to a remote event.
func fromICal(objectPath string, cal *ical.Calendar, loc *time.Location) (*models.RemoteEvent, error) {
	if cal == nil {
		return nil, fmt.Errorf("empty calendar data")
	}
	events := cal.Events()
	if len(events) == 0 {
		return nil, fmt.Errorf("no VEVENT in object")
	}
	ve := events[0]

	ev := &models.RemoteEvent{
		ID:   objectPath,
		Type: models.EventMeeting,
	}
	ev.Title = textProp(ve.Props, ical.PropSummary)
	ev.Description = textProp(ve.Props, ical.PropDescription)
	ev.Location = textProp(ve.Props, ical.PropLocation)
	ev.Cancelled = strings.EqualFold(textProp(ve.Props, ical.PropStatus), "CANCELLED")
	if t := textProp(ve.Props, propEventType); t != "" {
		ev.Type = models.ParseEventType(t)
	}
	if caseID := textProp(ve.Props, propCaseID); caseID != "" {
		ev.CaseID = &caseID
	}
	ev.LocalID = textProp(ve.Props, propEventID)

	if prop := ve.Props.Get(ical.PropDateTimeStart); prop != nil {
		start, err := prop.DateTime(loc)
		if err != nil {
			return nil, fmt.Errorf("bad DTSTART: %w", err)
		}
		ev.StartsAt = start
		ev.AllDay = prop.ValueType() == ical.ValueDate
	}
	if prop := ve.Props.Get(ical.PropDateTimeEnd); prop != nil {
		end, err := prop.DateTime(loc)
		if err != nil {
			return nil, fmt.Errorf("bad DTEND: %w", err)
		}
		ev.EndsAt = &end
	}
	if prop := ve.Props.Get(ical.PropLastModified); prop != nil {
		if updated, err := prop.DateTime(time.UTC); err == nil {
			ev.Updated = updated
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func textProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	v, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return v
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
