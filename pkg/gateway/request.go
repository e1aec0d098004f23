// Package gateway sequences the request pipeline: verify, rate-check,
// validate, dispatch, format. It is the only package that builds
// envelopes from pipeline outcomes and the only HTTP surface.
package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/brickfoundry/gateway/pkg/api"
)

// SignedRequest is the dispatch request body. Immutable once verified;
// the signature covers the raw bytes it was decoded from, never a
// re-serialization.
type SignedRequest struct {
	Brick          string         `json:"brick"`
	ConnectionID   string         `json:"connectionId"`
	Params         map[string]any `json:"params"`
	RequestID      string         `json:"requestId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// decodeRequest parses the raw body strictly: unknown top-level fields
// are rejected so client typos surface instead of being ignored.
func decodeRequest(rawBody []byte) (*SignedRequest, *api.Error) {
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.DisallowUnknownFields()

	var req SignedRequest
	if err := dec.Decode(&req); err != nil {
		return nil, api.NewError(api.CodeValidationFailed, "request body is not valid JSON: "+err.Error())
	}
	if req.Brick == "" {
		return nil, api.NewError(api.CodeValidationFailed, "brick is required")
	}
	if req.ConnectionID == "" {
		return nil, api.NewError(api.CodeValidationFailed, "connectionId is required")
	}
	return &req, nil
}

// paramsFingerprint hashes the canonical JSON form of the params so an
// idempotency key reused with a different payload is detectable.
func paramsFingerprint(params map[string]any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("gateway: encoding params: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("gateway: canonicalizing params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
