// Package threads groups stored messages into conversations for display.
package threads

import (
	"sort"
	"strings"

	"docketra/internal/models"
)

// Group clusters emails by provider thread id. A message without a thread
// id forms its own thread keyed by its id, so unrelated messages are never
// merged on subject alone. Members are ordered newest first and threads by
// their newest member. The input slice is not modified.
func Group(emails []*models.Email) []*models.Thread {
	byKey := make(map[string]*models.Thread)
	var order []*models.Thread

	for _, e := range emails {
		key := e.ThreadID
		if key == "" {
			key = e.ID
		}
		t, ok := byKey[key]
		if !ok {
			t = &models.Thread{ID: key}
			byKey[key] = t
			order = append(order, t)
		}
		t.Emails = append(t.Emails, e)
	}

	for _, t := range order {
		sort.SliceStable(t.Emails, func(i, j int) bool {
			return t.Emails[i].SentAt.After(t.Emails[j].SentAt)
		})
		summarize(t)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if !order[i].LastMessageAt.Equal(order[j].LastMessageAt) {
			return order[i].LastMessageAt.After(order[j].LastMessageAt)
		}
		return order[i].ID < order[j].ID
	})
	return order
}

// summarize fills the derived fields of a thread whose members are sorted.
func summarize(t *models.Thread) {
	newest := t.Emails[0]
	t.Subject = newest.Subject
	t.LastMessageAt = newest.SentAt

	seen := make(map[string]bool)
	for _, e := range t.Emails {
		if !e.IsRead {
			t.Unread = true
		}
		addr := strings.ToLower(strings.TrimSpace(e.From))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		t.Senders = append(t.Senders, e.From)
	}
}
