// Package bricks implements the gateway's capability handlers. Each
// brick wraps one external operation behind a collaborator client
// interface and calls it through the reliability executor; the concrete
// SaaS integrations are provided by the embedding deployment.
package bricks

import (
	"context"
	"time"

	"github.com/brickfoundry/gateway/pkg/credentials"
)

// Message is one e-mail message as returned by search and fetch.
type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
}

// Draft is a created e-mail draft.
type Draft struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// CalendarEvent is one calendar entry.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
}

// MailClient is the outbound mail dependency.
type MailClient interface {
	CreateDraft(ctx context.Context, conn *credentials.Reference, to, subject, body string) (*Draft, error)
	Send(ctx context.Context, conn *credentials.Reference, to, subject, body string) (messageID string, err error)
	Search(ctx context.Context, conn *credentials.Reference, query string, maxResults int) ([]Message, error)
	Fetch(ctx context.Context, conn *credentials.Reference, ids []string) ([]Message, error)
}

// CalendarClient is the outbound calendar dependency.
type CalendarClient interface {
	CreateEvent(ctx context.Context, conn *credentials.Reference, event CalendarEvent) (*CalendarEvent, error)
	ListDay(ctx context.Context, conn *credentials.Reference, day time.Time) ([]CalendarEvent, error)
}

// Summarizer is the metered AI summarization dependency.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, style string) (string, error)
}

// Dependency names used for circuit breakers and budgets.
const (
	DepGmail      = "gmail"
	DepCalendar   = "calendar"
	DepSummarizer = "summarizer"
)
