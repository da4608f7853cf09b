package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	w := DefaultWindow(now)

	assert.True(t, w.Valid())
	assert.Equal(t, now.AddDate(0, 0, -90), w.Min)
	assert.Equal(t, now.AddDate(0, 0, 365), w.Max)
	assert.True(t, w.Contains(w.Min))
	assert.True(t, w.Contains(w.Max))
	assert.False(t, w.Contains(w.Max.Add(time.Nanosecond)))

	assert.False(t, Window{Min: now, Max: now}.Valid())
	assert.False(t, Window{Max: now}.Valid())
}

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventCourtDate, ParseEventType("court_date"))
	assert.Equal(t, EventMeeting, ParseEventType(""))
	assert.Equal(t, EventMeeting, ParseEventType("party"))
}

func TestRemoteEventValidate(t *testing.T) {
	assert.Error(t, (&RemoteEvent{}).Validate())
	assert.Error(t, (&RemoteEvent{ID: "a"}).Validate())
	assert.NoError(t, (&RemoteEvent{ID: "a", Cancelled: true}).Validate())
	assert.NoError(t, (&RemoteEvent{ID: "a", StartsAt: time.Now()}).Validate())
}

func TestApplyRemoteKeepsLocalCaseLink(t *testing.T) {
	caseID := "case-1"
	ev := &Event{Owner: "alice", CaseID: &caseID}
	ev.ApplyRemote(&RemoteEvent{ID: "r-1", Title: "Hearing", Type: EventCourtDate})

	assert.Equal(t, "alice", ev.Owner)
	assert.Equal(t, "Hearing", ev.Title)
	assert.Equal(t, &caseID, ev.CaseID)
	assert.True(t, ev.HasRemote())
	assert.Equal(t, "r-1", *ev.RemoteID)
}

func TestThreadChronological(t *testing.T) {
	th := &Thread{Emails: []*Email{{ID: "3"}, {ID: "2"}, {ID: "1"}}}
	got := th.Chronological()

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[2].ID)
	assert.Equal(t, "3", th.Emails[0].ID)
}
