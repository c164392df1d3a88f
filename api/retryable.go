package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/buildkite/roko"
)

const (
	retryAttempts = 4
	retryInterval = 1 * time.Second
)

var retrableErrorSuffixes = []string{
	syscall.ECONNREFUSED.Error(),
	syscall.ECONNRESET.Error(),
	syscall.ETIMEDOUT.Error(),
	"no such host",
	"remote error: handshake failure",
	io.ErrUnexpectedEOF.Error(),
	io.EOF.Error(),
}

var retryableStatuses = []int{
	http.StatusTooManyRequests,     // 429
	http.StatusInternalServerError, // 500
	http.StatusBadGateway,          // 502
	http.StatusServiceUnavailable,  // 503
	http.StatusGatewayTimeout,      // 504
}

// IsRetryableStatus returns true if the response's StatusCode is one that we should retry.
func IsRetryableStatus(r *Response) bool {
	return r.StatusCode >= 400 && slices.Contains(retryableStatuses, r.StatusCode)
}

// IsRetryableError looks at a bunch of connection related errors, and
// returns true if the error matches one of them.
func IsRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var neterr net.Error
	if errors.As(err, &neterr) && neterr.Timeout() {
		return true
	}

	var urlerr *url.Error
	if errors.As(err, &urlerr) {
		if strings.Contains(urlerr.Error(), "use of closed network connection") {
			return true
		}
	}

	s := err.Error()
	if strings.Contains(s, "request canceled while waiting for connection") {
		return true
	}

	for _, suffix := range retrableErrorSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}

	return false
}

// retry calls f until it succeeds, fails permanently, or runs out of
// attempts. Network errors and retryable statuses are retried with
// exponential backoff; anything else stops immediately.
func retry[T any](ctx context.Context, c *Client, what string, f func() (T, *Response, error)) (T, *Response, error) {
	var resp *Response
	r := roko.NewRetrier(
		roko.WithMaxAttempts(retryAttempts),
		roko.WithStrategy(roko.Exponential(retryInterval, 0)),
		roko.WithJitter(),
		roko.WithSleepFunc(c.conf.RetrySleepFunc),
	)
	v, err := roko.DoFunc(ctx, r, func(r *roko.Retrier) (T, error) {
		var (
			v   T
			err error
		)
		v, resp, err = f()
		if err == nil {
			return v, nil
		}

		switch {
		case resp != nil && IsRetryableStatus(resp):
		case resp == nil && IsRetryableError(err):
		default:
			r.Break()
			return v, err
		}

		c.logger.Warn("%s failed: %s (%s)", what, err, r)
		return v, err
	})
	return v, resp, err
}
