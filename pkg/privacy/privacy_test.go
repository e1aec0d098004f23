package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubEmails(t *testing.T) {
	r := NewRedactor()

	assert.Equal(t, "draft for ***@***", r.Scrub("draft for alice@example.com"))
	assert.Equal(t, "***@*** and ***@***", r.Scrub("a.b+tag@sub.example.co.uk and second@example.org"))
	assert.Equal(t, "no pii here", r.Scrub("no pii here"))
}

func TestScrubPhoneNumbers(t *testing.T) {
	r := NewRedactor()

	assert.Equal(t, "call ***", r.Scrub("call +1 (555) 123-4567"))
	assert.Equal(t, "call ***", r.Scrub("call 0555-123456"))
}

func TestScrubSignatures(t *testing.T) {
	r := NewRedactor()

	in := "rejected sha256=deadbeefcafe0123456789abcdef0123456789abcdef0123456789abcdef0123"
	assert.Equal(t, "rejected sha256=deadbeef...", r.Scrub(in))
}

func TestScrubMixedContent(t *testing.T) {
	r := NewRedactor()

	// The digit run inside the signature must not be half-eaten by the
	// phone rule before the signature rule truncates it.
	in := "sha256=0123456789abcdef0123456789abcdef from alice@example.com at +1 555 123 4567"
	assert.Equal(t, "sha256=01234567... from ***@*** at ***", r.Scrub(in))
}

func TestScrubMap(t *testing.T) {
	r := NewRedactor()

	got := r.ScrubMap(map[string]any{
		"to":    "bob@example.com",
		"count": 3,
		"nested": map[string]any{
			"contact": "+1 555 123 4567",
		},
	})

	assert.Equal(t, "***@***", got["to"])
	assert.Equal(t, 3, got["count"])
	nested := got["nested"].(map[string]any)
	assert.Equal(t, "***", nested["contact"])
}

func TestScrubMapNil(t *testing.T) {
	assert.Nil(t, NewRedactor().ScrubMap(nil))
}
