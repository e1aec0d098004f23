package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brickfoundry/gateway/pkg/api"
	"github.com/brickfoundry/gateway/pkg/auth"
	"github.com/brickfoundry/gateway/pkg/brick"
	"github.com/brickfoundry/gateway/pkg/config"
	"github.com/brickfoundry/gateway/pkg/idempotency"
	"github.com/brickfoundry/gateway/pkg/observability"
	"github.com/brickfoundry/gateway/pkg/privacy"
	"github.com/brickfoundry/gateway/pkg/quota"
	"github.com/brickfoundry/gateway/pkg/schema"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 1 << 20

// Gateway is the request pipeline orchestrator.
type Gateway struct {
	verifier   *auth.Verifier
	limits     *config.LimitsProfile
	quota      quota.Store
	validator  *schema.Validator
	dispatcher *brick.Dispatcher
	cache      *idempotency.Cache
	formatter  *api.Formatter
	redactor   *privacy.Redactor
	metrics    *observability.Provider
	logger     *slog.Logger
}

// New assembles the pipeline.
func New(
	verifier *auth.Verifier,
	limits *config.LimitsProfile,
	quotaStore quota.Store,
	validator *schema.Validator,
	dispatcher *brick.Dispatcher,
	cache *idempotency.Cache,
	formatter *api.Formatter,
	metrics *observability.Provider,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier:   verifier,
		limits:     limits,
		quota:      quotaStore,
		validator:  validator,
		dispatcher: dispatcher,
		cache:      cache,
		formatter:  formatter,
		redactor:   privacy.NewRedactor(),
		metrics:    metrics,
		logger:     logger,
	}
}

// HandleDispatch serves POST /v1/dispatch. Gate failures (verify, rate,
// validate, unknown brick) respond immediately with the matching typed
// error; only dispatched calls reach a handler.
func (g *Gateway) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		g.respondError(ctx, w, "", "", api.NewError(api.CodeValidationFailed, "only POST is supported"), started)
		return
	}

	// The body must be captured byte-identically before any parsing:
	// re-encoding it would invalidate the signature.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.respondError(ctx, w, "", "", api.NewError(api.CodeValidationFailed, "failed to read request body"), started)
		return
	}

	// Gate 1: signature and freshness.
	if authErr := g.verifier.Verify(rawBody, r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature")); authErr != nil {
		g.respondError(ctx, w, "", "", authErr, started)
		return
	}

	req, decErr := decodeRequest(rawBody)
	if decErr != nil {
		g.respondError(ctx, w, "", "", decErr, started)
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = auth.GetRequestID(ctx)
	}

	// Idempotency replay: a stored envelope is returned as-is (plus the
	// cached marker) without touching the handler or the quota counter.
	if req.IdempotencyKey != "" {
		if rec, hit, lookupErr := g.cache.Lookup(ctx, req.Brick, req.IdempotencyKey); lookupErr != nil {
			// A failing store must not break the request; treat it as a
			// miss and let the handler run.
			g.logger.ErrorContext(ctx, "idempotency lookup failed",
				"error", lookupErr,
				"brick", req.Brick,
				"request_id", requestID)
		} else if hit {
			g.replay(ctx, w, req.Brick, rec, started)
			return
		}

		flight, owner := g.cache.Begin(req.Brick, req.IdempotencyKey)
		if !owner {
			// A duplicate is in flight; wait for its envelope so both
			// callers respond identically from one handler invocation.
			status, body, waitErr := flight.Wait(ctx)
			if waitErr != nil {
				g.respondError(ctx, w, req.Brick, requestID, api.NewError(api.CodeTimeout, "duplicate request timed out waiting for the original"), started)
				return
			}
			api.WriteRaw(w, status, body)
			g.logRequest(ctx, req, status, started, true)
			return
		}
		// The previous owner may have stored its record between the miss
		// above and this claim of the flight; re-check before executing.
		if rec, hit, lookupErr := g.cache.Lookup(ctx, req.Brick, req.IdempotencyKey); lookupErr == nil && hit {
			g.cache.Complete(ctx, req.Brick, req.IdempotencyKey, rec.ParamsHash, rec.StatusCode, rec.Envelope, false)
			g.replay(ctx, w, req.Brick, rec, started)
			return
		}
		defer func() {
			// Safety net for panics and aborted paths: publish a typed
			// failure so waiters never observe a zero status. Complete
			// is a no-op when a normal path already released the flight.
			env := g.formatter.Failure(req.Brick, "", requestID, api.NewError(api.CodeInternal, "request aborted"))
			body, mErr := json.Marshal(env)
			if mErr != nil {
				body = nil
			}
			g.cache.Complete(ctx, req.Brick, req.IdempotencyKey, "", api.HTTPStatus(api.CodeInternal), body, false)
		}()
	}

	// Gate 2: per-key daily quota.
	decision, quotaErr := g.quota.Allow(ctx, req.ConnectionID, g.limits.LimitFor(req.ConnectionID))
	if quotaErr != nil {
		g.logger.Error("quota backend failed", "error", quotaErr)
		g.finish(ctx, w, req, requestID, "", api.NewError(api.CodeInternal, "rate limit check failed"), nil, started)
		return
	}
	if !decision.Allowed {
		rateErr := api.NewError(api.CodeRateLimited, "daily request limit reached").
			WithRetryAfter(decision.RetryAfter.Milliseconds())
		g.finish(ctx, w, req, requestID, "", rateErr, nil, started)
		return
	}

	// Gate 3: per-brick schema validation. Unknown bricks fall through
	// to the dispatcher, which owns UNKNOWN_BRICK.
	if valErr := g.validator.Validate(req.Brick, req.Params); valErr != nil {
		g.finish(ctx, w, req, requestID, "", valErr, nil, started)
		return
	}

	// Dispatch.
	result, desc, dispatchErr := g.dispatcher.Dispatch(ctx, req.Brick, req.Params, brick.Meta{
		RequestID:    requestID,
		ConnectionID: req.ConnectionID,
	})
	if dispatchErr != nil {
		g.finish(ctx, w, req, requestID, desc.Version, dispatchErr, nil, started)
		return
	}
	g.finish(ctx, w, req, requestID, desc.Version, nil, result, started)
}

// finish formats the terminal outcome, responds, and publishes the
// envelope to any idempotency waiters (storing it only on success).
func (g *Gateway) finish(ctx context.Context, w http.ResponseWriter, req *SignedRequest, requestID, version string, failure error, result any, started time.Time) {
	var env *api.Envelope
	if failure != nil {
		env = g.formatter.Failure(req.Brick, version, requestID, failure)
	} else {
		env = g.formatter.Success(req.Brick, version, requestID, result)
	}

	status := http.StatusOK
	if !env.OK {
		status = api.HTTPStatus(env.Error.Code)
	}

	body, err := json.Marshal(env)
	if err != nil {
		// Fall back to a plain INTERNAL envelope and keep going so
		// idempotency waiters receive real bytes, never a zero status.
		g.logger.Error("envelope marshal failed", "error", err)
		env = g.formatter.Failure(req.Brick, version, requestID, api.NewError(api.CodeInternal, "response encoding failed"))
		status = api.HTTPStatus(api.CodeInternal)
		body, err = json.Marshal(env)
		if err != nil {
			g.logger.Error("fallback envelope marshal failed", "error", err)
			return
		}
	}

	if req.IdempotencyKey != "" {
		fingerprint := ""
		if fp, fpErr := paramsFingerprint(req.Params); fpErr == nil {
			fingerprint = fp
		}
		g.cache.Complete(ctx, req.Brick, req.IdempotencyKey, fingerprint, status, body, env.OK)
	}

	if env.Error != nil && env.Error.RetryAfterMs > 0 {
		// Write (not WriteRaw) so the Retry-After header is emitted.
		api.Write(w, env)
	} else {
		api.WriteRaw(w, status, body)
	}
	g.logRequest(ctx, req, status, started, false)
	g.record(ctx, req.Brick, env, started)
}

// replay writes a stored envelope back with the cached marker set.
func (g *Gateway) replay(ctx context.Context, w http.ResponseWriter, brickName string, rec *idempotency.Record, started time.Time) {
	var env api.Envelope
	if err := json.Unmarshal(rec.Envelope, &env); err != nil {
		api.WriteRaw(w, rec.StatusCode, rec.Envelope)
		return
	}
	env.Cached = true
	api.Write(w, &env)

	g.logger.InfoContext(ctx, "idempotency replay",
		"brick", brickName,
		"request_id", env.RequestID,
		"first_seen_at", rec.FirstSeenAt)
	if g.metrics != nil {
		g.metrics.RecordRequest(ctx, brickName, env.OK, time.Since(started))
	}
}

// respondError handles failures before a request object exists.
func (g *Gateway) respondError(ctx context.Context, w http.ResponseWriter, brickName, requestID string, apiErr *api.Error, started time.Time) {
	if requestID == "" {
		requestID = auth.GetRequestID(ctx)
	}
	env := g.formatter.Failure(brickName, "", requestID, apiErr)
	api.Write(w, env)

	g.logger.InfoContext(ctx, "request rejected",
		"code", apiErr.Code,
		"request_id", requestID,
		"detail", g.redactor.Scrub(apiErr.Message))
	if g.metrics != nil {
		g.metrics.RecordError(ctx, apiErr.Code)
		g.metrics.RecordRequest(ctx, brickName, false, time.Since(started))
	}
}

func (g *Gateway) record(ctx context.Context, brickName string, env *api.Envelope, started time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordRequest(ctx, brickName, env.OK, time.Since(started))
	if env.Error != nil {
		g.metrics.RecordError(ctx, env.Error.Code)
	}
}

func (g *Gateway) logRequest(ctx context.Context, req *SignedRequest, status int, started time.Time, coalesced bool) {
	// Params are never logged; even redacted they may hold message
	// bodies for sensitive bricks.
	g.logger.InfoContext(ctx, "dispatch",
		"brick", req.Brick,
		"connection_id", req.ConnectionID,
		"status", status,
		"duration_ms", time.Since(started).Milliseconds(),
		"coalesced", coalesced)
}
