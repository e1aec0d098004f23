package bricks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brickfoundry/gateway/pkg/credentials"
)

// Loopback is an in-process implementation of all three dependency
// clients. It backs the dev server and the end-to-end tests; production
// deployments swap in real provider clients at assembly time.
type Loopback struct {
	mu       sync.Mutex
	drafts   map[string]Draft
	messages []Message
	events   []CalendarEvent
}

// NewLoopback creates an empty loopback backend.
func NewLoopback() *Loopback {
	return &Loopback{drafts: make(map[string]Draft)}
}

// SeedMessages preloads the mailbox, mainly for tests.
func (l *Loopback) SeedMessages(msgs ...Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msgs...)
	l.mu.Unlock()
}

func (l *Loopback) CreateDraft(ctx context.Context, conn *credentials.Reference, to, subject, body string) (*Draft, error) {
	d := Draft{ID: uuid.NewString(), To: to, Subject: subject}
	l.mu.Lock()
	l.drafts[d.ID] = d
	l.mu.Unlock()
	return &d, nil
}

func (l *Loopback) Send(ctx context.Context, conn *credentials.Reference, to, subject, body string) (string, error) {
	id := uuid.NewString()
	l.mu.Lock()
	l.messages = append(l.messages, Message{
		ID:      id,
		From:    conn.AccountHint,
		To:      to,
		Subject: subject,
		Snippet: snippet(body),
		Date:    time.Now().UTC(),
	})
	l.mu.Unlock()
	return id, nil
}

func (l *Loopback) Search(ctx context.Context, conn *credentials.Reference, query string, maxResults int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	q := strings.ToLower(query)
	for _, m := range l.messages {
		if q == "" || strings.Contains(strings.ToLower(m.Subject), q) || strings.Contains(strings.ToLower(m.Snippet), q) {
			out = append(out, m)
			if maxResults > 0 && len(out) >= maxResults {
				break
			}
		}
	}
	return out, nil
}

func (l *Loopback) Fetch(ctx context.Context, conn *credentials.Reference, ids []string) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Message
	for _, m := range l.messages {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Loopback) CreateEvent(ctx context.Context, conn *credentials.Reference, event CalendarEvent) (*CalendarEvent, error) {
	event.ID = uuid.NewString()
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return &event, nil
}

func (l *Loopback) ListDay(ctx context.Context, conn *credentials.Reference, day time.Time) ([]CalendarEvent, error) {
	dayEnd := day.Add(24 * time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []CalendarEvent
	for _, e := range l.events {
		if !e.Start.Before(day) && e.Start.Before(dayEnd) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Summarize produces a trivial extractive summary. The real deployment
// routes this to an LLM provider; the shape of the call is what matters
// here.
func (l *Loopback) Summarize(ctx context.Context, texts []string, style string) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("loopback: nothing to summarize")
	}
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, snippet(t))
	}
	return fmt.Sprintf("%d message(s): %s", len(texts), strings.Join(parts, " | ")), nil
}

func snippet(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
