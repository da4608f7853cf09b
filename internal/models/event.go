package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType tags what kind of calendar entry an event is.
type EventType string

const (
	EventCourtDate           EventType = "court_date"
	EventDeadline            EventType = "deadline"
	EventFiling              EventType = "filing"
	EventMeeting             EventType = "meeting"
	EventReminder            EventType = "reminder"
	EventStatuteOfLimitation EventType = "statute_of_limitations"
)

// EventTypes lists every accepted event type.
var EventTypes = []EventType{
	EventCourtDate,
	EventDeadline,
	EventFiling,
	EventMeeting,
	EventReminder,
	EventStatuteOfLimitation,
}

// ParseEventType returns the matching type, falling back to a meeting for
// unknown or empty tags (events created directly in the provider carry none).
func ParseEventType(s string) EventType {
	for _, t := range EventTypes {
		if string(t) == s {
			return t
		}
	}
	return EventMeeting
}

// Event is one locally stored calendar occurrence owned by a single user.
type Event struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Owner        string     `gorm:"not null;index:idx_events_owner_start,priority:1;uniqueIndex:idx_events_owner_remote,priority:1" json:"owner"`
	Title        string     `gorm:"not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	Type         EventType  `gorm:"type:varchar(32);not null" json:"type"`
	StartsAt     time.Time  `gorm:"not null;index:idx_events_owner_start,priority:2" json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	AllDay       bool       `gorm:"default:false" json:"all_day"`
	Location     string     `json:"location"`
	RemoteID     *string    `gorm:"uniqueIndex:idx_events_owner_remote,priority:2" json:"remote_id,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastModified time.Time  `gorm:"not null" json:"last_modified"`
	CaseID       *string    `gorm:"index" json:"case_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasRemote reports whether the event has been pushed to the provider.
func (e *Event) HasRemote() bool {
	return e.RemoteID != nil && *e.RemoteID != ""
}

// ApplyRemote overwrites the provider-owned fields from r.
// Ownership, identity and sync bookkeeping are left to the caller.
func (e *Event) ApplyRemote(r *RemoteEvent) {
	e.Title = r.Title
	e.Description = r.Description
	e.Type = r.Type
	e.StartsAt = r.StartsAt
	e.EndsAt = r.EndsAt
	e.AllDay = r.AllDay
	e.Location = r.Location
	if r.CaseID != nil {
		e.CaseID = r.CaseID
	}
	id := r.ID
	e.RemoteID = &id
}

// RemoteEvent is the provider-neutral shape of an event as a remote
// calendar reports it. Provider clients map their payloads into it.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Type        EventType
	StartsAt    time.Time
	EndsAt      *time.Time
	AllDay      bool
	Location    string
	CaseID      *string
	// LocalID is the local event the provider copy was pushed from; empty
	// for events created in the provider.
	LocalID string
	// Updated is zero when the provider did not report a modification time.
	Updated   time.Time
	Cancelled bool
}

// Validate checks the record at the provider boundary. Cancelled entries
// only need an id; providers often strip everything else from them.
func (r *RemoteEvent) Validate() error {
	if r.ID == "" {
		return errors.New("remote event has no id")
	}
	if r.Cancelled {
		return nil
	}
	if r.StartsAt.IsZero() {
		return fmt.Errorf("remote event %s has no start time", r.ID)
	}
	return nil
}

// Window is an inclusive time range [Min, Max] used to bound a sync pass.
type Window struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// DefaultWindow returns the standard reconciliation range around now:
// 90 days back and 365 days ahead.
func DefaultWindow(now time.Time) Window {
	return WindowAround(now, 90*24*time.Hour, 365*24*time.Hour)
}

// WindowAround builds a window reaching past into the past and future ahead.
func WindowAround(now time.Time, past, future time.Duration) Window {
	return Window{Min: now.Add(-past), Max: now.Add(future)}
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return !w.Min.IsZero() && !w.Max.IsZero() && w.Min.Before(w.Max)
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Min) && !t.After(w.Max)
}
