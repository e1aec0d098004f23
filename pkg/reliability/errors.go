package reliability

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/brickfoundry/gateway/pkg/api"
)

// IsRetryable classifies a dependency error. Connection resets,
// timeouts, upstream rate limiting, and 5xx responses are transient;
// anything else (other 4xx, malformed input) fails immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case api.CodeTimeout, api.CodeUpstream5xx, api.CodeRateLimited:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// asDependencyError maps an exhausted or terminal error onto the typed
// taxonomy. Typed errors pass through; raw transport errors collapse
// into TIMEOUT or DEPENDENCY_UNAVAILABLE so nothing unformatted escapes.
func asDependencyError(dep string, err error) *api.Error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewError(api.CodeTimeout, dep+" call timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return api.NewError(api.CodeTimeout, dep+" call timed out")
	}
	return api.NewError(api.CodeDependencyUnavailable, dep+" is unavailable")
}
