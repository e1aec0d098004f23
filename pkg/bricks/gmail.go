package bricks

import (
	"context"
	"fmt"

	"github.com/brickfoundry/gateway/pkg/api"
	"github.com/brickfoundry/gateway/pkg/brick"
	"github.com/brickfoundry/gateway/pkg/credentials"
	"github.com/brickfoundry/gateway/pkg/metering"
	"github.com/brickfoundry/gateway/pkg/reliability"
)

// Gmail bundles the mail-backed bricks.
type Gmail struct {
	mail       MailClient
	summarizer Summarizer
	exec       *reliability.Executor
	creds      credentials.Resolver
	meter      metering.Meter
}

// NewGmail creates the mail brick set.
func NewGmail(mail MailClient, summarizer Summarizer, exec *reliability.Executor, creds credentials.Resolver, meter metering.Meter) *Gmail {
	return &Gmail{mail: mail, summarizer: summarizer, exec: exec, creds: creds, meter: meter}
}

// Descriptors returns the registrable bricks.
func (g *Gmail) Descriptors() []brick.Descriptor {
	return []brick.Descriptor{
		{
			Name:        "gmail.create_email_draft",
			Version:     "1.0.0",
			InputSchema: createDraftSchema,
			Handler:     brick.HandlerFunc(g.createDraft),
		},
		{
			Name:        "gmail.send_email",
			Version:     "1.1.0",
			InputSchema: sendEmailSchema,
			Handler:     brick.HandlerFunc(g.sendEmail),
		},
		{
			Name:        "gmail.search_messages",
			Version:     "1.0.0",
			InputSchema: searchMessagesSchema,
			Handler:     brick.HandlerFunc(g.searchMessages),
		},
		{
			Name:        "gmail.summarize_emails",
			Version:     "0.9.0",
			InputSchema: summarizeEmailsSchema,
			Handler:     brick.HandlerFunc(g.summarizeEmails),
		},
	}
}

const createDraftSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["to", "subject", "body"],
	"properties": {
		"to":      {"type": "string", "format": "email"},
		"subject": {"type": "string", "minLength": 1},
		"body":    {"type": "string"}
	}
}`

const sendEmailSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["to", "subject", "body"],
	"properties": {
		"to":      {"type": "string", "format": "email"},
		"subject": {"type": "string", "minLength": 1},
		"body":    {"type": "string"}
	}
}`

const searchMessagesSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["query"],
	"properties": {
		"query":      {"type": "string", "minLength": 1},
		"maxResults": {"type": "integer", "minimum": 1, "maximum": 100}
	}
}`

const summarizeEmailsSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["messageIds"],
	"properties": {
		"messageIds": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"minItems": 1,
			"maxItems": 50
		},
		"style": {"type": "string", "enum": ["brief", "detailed", "bullets"]}
	}
}`

func (g *Gmail) connection(ctx context.Context) (*credentials.Reference, error) {
	meta := brick.MetaFrom(ctx)
	ref, err := g.creds.Resolve(ctx, meta.ConnectionID)
	if err != nil {
		return nil, api.NewError(api.CodeValidationFailed,
			fmt.Sprintf("connection %q is not provisioned", meta.ConnectionID))
	}
	return ref, nil
}

func (g *Gmail) createDraft(ctx context.Context, params map[string]any) (any, error) {
	conn, err := g.connection(ctx)
	if err != nil {
		return nil, err
	}
	to, subject, body := str(params, "to"), str(params, "subject"), str(params, "body")

	result, err := g.exec.Do(ctx, DepGmail, func(ctx context.Context) (any, error) {
		return g.mail.CreateDraft(ctx, conn, to, subject, body)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": result}, nil
}

func (g *Gmail) sendEmail(ctx context.Context, params map[string]any) (any, error) {
	conn, err := g.connection(ctx)
	if err != nil {
		return nil, err
	}
	to, subject, body := str(params, "to"), str(params, "subject"), str(params, "body")

	result, err := g.exec.Do(ctx, DepGmail, func(ctx context.Context) (any, error) {
		return g.mail.Send(ctx, conn, to, subject, body)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"messageId": result}, nil
}

func (g *Gmail) searchMessages(ctx context.Context, params map[string]any) (any, error) {
	conn, err := g.connection(ctx)
	if err != nil {
		return nil, err
	}
	query := str(params, "query")
	maxResults := intOr(params, "maxResults", 10)

	result, err := g.exec.Do(ctx, DepGmail, func(ctx context.Context) (any, error) {
		return g.mail.Search(ctx, conn, query, maxResults)
	})
	if err != nil {
		return nil, err
	}
	messages, _ := result.([]Message)
	if messages == nil {
		messages = []Message{}
	}
	return map[string]any{"messages": messages}, nil
}

// summarizeEmails is a two-hop brick: fetch the messages from the mail
// dependency, then run the metered summarizer. Failures from either hop
// surface as one typed error; partial results never leak.
func (g *Gmail) summarizeEmails(ctx context.Context, params map[string]any) (any, error) {
	conn, err := g.connection(ctx)
	if err != nil {
		return nil, err
	}
	ids := strSlice(params, "messageIds")
	style := strOr(params, "style", "brief")

	fetched, err := g.exec.Do(ctx, DepGmail, func(ctx context.Context) (any, error) {
		return g.mail.Fetch(ctx, conn, ids)
	})
	if err != nil {
		return nil, err
	}
	messages, _ := fetched.([]Message)
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Subject+"\n"+m.Snippet)
	}

	summary, err := g.exec.Do(ctx, DepSummarizer, func(ctx context.Context) (any, error) {
		return g.summarizer.Summarize(ctx, texts, style)
	})
	if err != nil {
		return nil, err
	}

	meta := brick.MetaFrom(ctx)
	_ = g.meter.Record(ctx, metering.Event{
		KeyID:     meta.ConnectionID,
		EventType: metering.EventSummaryRun,
		Quantity:  1,
		Metadata:  map[string]any{"messages": len(messages)},
	})

	return map[string]any{
		"summary":      summary,
		"messageCount": len(messages),
		"style":        style,
	}, nil
}

func str(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func strOr(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

func intOr(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func strSlice(params map[string]any, key string) []string {
	raw, _ := params[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
