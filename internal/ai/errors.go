package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx provider response. The status code drives the
// runner's backoff classification, so it must survive wrapping.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// IsRateLimited reports whether the provider rejected the call for
// exceeding its per-minute quota.
func IsRateLimited(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsPaymentRequired reports whether the provider rejected the call for
// billing reasons (exhausted credits, expired card). Providers are not
// consistent about the status code, so the body is checked too.
func IsPaymentRequired(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.StatusCode == http.StatusPaymentRequired {
		return true
	}
	body := strings.ToLower(he.Body)
	return strings.Contains(body, "insufficient_quota") ||
		strings.Contains(body, "billing") ||
		strings.Contains(body, "payment")
}

// isRetryable covers transient conditions the client retries itself:
// timeouts, connection errors, and 5xx/408. Rate-limit and payment
// errors are deliberately excluded; the queue runner owns those.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusRequestTimeout {
			return true
		}
		return he.StatusCode >= 500 && he.StatusCode <= 599
	}
	return false
}

// retryAfter picks a sleep before the next transient retry, honoring a
// Retry-After header when present and capping at max.
func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleep := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleep = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleep > max {
		sleep = max
	}
	return sleep
}
