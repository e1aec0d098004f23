package bricks

import (
	"context"
	"fmt"
	"time"

	"github.com/brickfoundry/gateway/pkg/api"
	"github.com/brickfoundry/gateway/pkg/brick"
	"github.com/brickfoundry/gateway/pkg/credentials"
	"github.com/brickfoundry/gateway/pkg/reliability"
)

// Calendar bundles the calendar-backed bricks.
type Calendar struct {
	client CalendarClient
	exec   *reliability.Executor
	creds  credentials.Resolver
	clock  func() time.Time
}

// NewCalendar creates the calendar brick set.
func NewCalendar(client CalendarClient, exec *reliability.Executor, creds credentials.Resolver) *Calendar {
	return &Calendar{client: client, exec: exec, creds: creds, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (c *Calendar) WithClock(clock func() time.Time) *Calendar {
	c.clock = clock
	return c
}

// Descriptors returns the registrable bricks.
func (c *Calendar) Descriptors() []brick.Descriptor {
	return []brick.Descriptor{
		{
			Name:        "calendar.create_event",
			Version:     "1.0.0",
			InputSchema: createEventSchema,
			Handler:     brick.HandlerFunc(c.createEvent),
		},
		{
			Name:        "calendar.list_todays_events",
			Version:     "1.0.0",
			InputSchema: listTodaySchema,
			Handler:     brick.HandlerFunc(c.listToday),
		},
	}
}

const createEventSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["title", "start", "end"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"start": {"type": "string", "format": "date-time"},
		"end":   {"type": "string", "format": "date-time"},
		"attendees": {
			"type": "array",
			"items": {"type": "string", "format": "email"},
			"maxItems": 100
		}
	}
}`

const listTodaySchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {}
}`

func (c *Calendar) connection(ctx context.Context) (*credentials.Reference, error) {
	meta := brick.MetaFrom(ctx)
	ref, err := c.creds.Resolve(ctx, meta.ConnectionID)
	if err != nil {
		return nil, api.NewError(api.CodeValidationFailed,
			fmt.Sprintf("connection %q is not provisioned", meta.ConnectionID))
	}
	return ref, nil
}

func (c *Calendar) createEvent(ctx context.Context, params map[string]any) (any, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	start, err := time.Parse(time.RFC3339, str(params, "start"))
	if err != nil {
		return nil, api.NewError(api.CodeValidationFailed, "start is not a valid RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, str(params, "end"))
	if err != nil {
		return nil, api.NewError(api.CodeValidationFailed, "end is not a valid RFC 3339 timestamp")
	}
	if !end.After(start) {
		return nil, api.NewError(api.CodeValidationFailed, "end must be after start")
	}

	event := CalendarEvent{
		Title:     str(params, "title"),
		Start:     start,
		End:       end,
		Attendees: strSlice(params, "attendees"),
	}

	result, err := c.exec.Do(ctx, DepCalendar, func(ctx context.Context) (any, error) {
		return c.client.CreateEvent(ctx, conn, event)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": result}, nil
}

func (c *Calendar) listToday(ctx context.Context, params map[string]any) (any, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	day := c.clock().UTC().Truncate(24 * time.Hour)
	result, err := c.exec.Do(ctx, DepCalendar, func(ctx context.Context) (any, error) {
		return c.client.ListDay(ctx, conn, day)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]CalendarEvent)
	if events == nil {
		events = []CalendarEvent{}
	}
	return map[string]any{"events": events, "date": day.Format("2006-01-02")}, nil
}
