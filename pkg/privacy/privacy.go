// Package privacy redacts personal data from anything the gateway logs.
// E-mail addresses, phone numbers, and signature values never appear in
// the log stream in clear text.
package privacy

import (
	"regexp"
)

// Redactor scrubs PII from free-form text before it reaches a log sink.
type Redactor struct {
	emailRegex *regexp.Regexp
	phoneRegex *regexp.Regexp
	sigRegex   *regexp.Regexp
}

// NewRedactor returns a Redactor with the standard rule set.
func NewRedactor() *Redactor {
	return &Redactor{
		emailRegex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		// International and local formats: +1 (555) 123-4567, 0555-123456, ...
		phoneRegex: regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),
		sigRegex:   regexp.MustCompile(`sha256=[0-9a-fA-F]{8,}`),
	}
}

// Scrub replaces HMAC signature values with a truncated marker, e-mail
// addresses with ***@***, and phone numbers with ***. Signatures go
// first: the phone rule matches long digit runs and would otherwise eat
// parts of a hex signature before the signature rule sees it.
func (r *Redactor) Scrub(text string) string {
	text = r.sigRegex.ReplaceAllStringFunc(text, func(m string) string {
		// Keep the first 8 hex chars so operators can correlate requests.
		return m[:len("sha256=")+8] + "..."
	})
	text = r.emailRegex.ReplaceAllString(text, "***@***")
	text = r.phoneRegex.ReplaceAllString(text, "***")
	return text
}

// ScrubMap redacts all string values of a parameter map, returning a copy
// safe for logging. Non-string values are passed through untouched except
// nested maps, which are scrubbed recursively.
func (r *Redactor) ScrubMap(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = r.Scrub(val)
		case map[string]any:
			out[k] = r.ScrubMap(val)
		default:
			out[k] = v
		}
	}
	return out
}
