package fetch

import (
	"context"
	"errors"
	"net/http"

	"github.com/zeebo/errs"
)

var (
	// TransientError marks failures worth retrying: timeouts, connection
	// errors, rate limiting and vendor 5xx responses.
	TransientError = errs.Class("transient fetch error")

	// FormatError marks responses that cannot be used: unexpected status
	// codes or a page/response shape the parser does not recognize. These
	// are not retried.
	FormatError = errs.Class("format error")
)

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return TransientError.Has(err)
}

// IsFormat reports whether err is a permanent format error.
func IsFormat(err error) bool {
	return FormatError.Has(err)
}

// classifyStatus maps a non-2xx status to an error class.
func classifyStatus(method, url string, status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return TransientError.New("%s %s: status %d", method, url, status)
	}
	return FormatError.New("%s %s: status %d", method, url, status)
}

// classifyTransport maps an http.Client.Do error. Every transport failure
// (timeout, refused or reset connection, DNS) is transient. Caller
// cancellation is returned unclassified so shutdown does not count as a
// failed attempt.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return TransientError.Wrap(err)
}
