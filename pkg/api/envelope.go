package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Envelope is the standardized response wrapper. Every response, success
// or failure, has exactly this shape.
type Envelope struct {
	OK           bool   `json:"ok"`
	Brick        string `json:"brick,omitempty"`
	BrickVersion string `json:"brickVersion,omitempty"`
	Timestamp    string `json:"timestamp"`
	RequestID    string `json:"requestId,omitempty"`
	Data         any    `json:"data,omitempty"`
	Error        *Error `json:"error,omitempty"`
	Cached       bool   `json:"cached,omitempty"`
}

// Formatter builds envelopes. The clock is injectable for deterministic
// tests.
type Formatter struct {
	clock func() time.Time
}

// NewFormatter creates a formatter using the wall clock.
func NewFormatter() *Formatter {
	return &Formatter{clock: time.Now}
}

// WithClock overrides the clock for testing.
func (f *Formatter) WithClock(clock func() time.Time) *Formatter {
	f.clock = clock
	return f
}

// Success builds a success envelope for a completed brick call.
func (f *Formatter) Success(brick, version, requestID string, data any) *Envelope {
	return &Envelope{
		OK:           true,
		Brick:        brick,
		BrickVersion: version,
		Timestamp:    f.clock().UTC().Format(time.RFC3339),
		RequestID:    requestID,
		Data:         data,
	}
}

// Failure builds a failure envelope. Any non-typed error collapses into
// INTERNAL via AsError.
func (f *Formatter) Failure(brick, version, requestID string, err error) *Envelope {
	return &Envelope{
		OK:           false,
		Brick:        brick,
		BrickVersion: version,
		Timestamp:    f.clock().UTC().Format(time.RFC3339),
		RequestID:    requestID,
		Error:        AsError(err),
	}
}

// Write emits an envelope with the HTTP status derived from its error
// code (200 for success). RATE_LIMITED responses additionally carry a
// Retry-After header.
func Write(w http.ResponseWriter, env *Envelope) {
	status := http.StatusOK
	if !env.OK && env.Error != nil {
		status = HTTPStatus(env.Error.Code)
		if env.Error.RetryAfterMs > 0 {
			secs := (env.Error.RetryAfterMs + 999) / 1000
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("envelope write failed", "error", err)
	}
}

// WriteRaw replays a previously serialized envelope byte-for-byte, used
// by the idempotency cache so a replayed response is identical to the
// first one.
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
