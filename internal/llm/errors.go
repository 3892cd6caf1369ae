package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrConnection means the model endpoint could not be reached at all.
// It is never retried.
var ErrConnection = errors.New("model endpoint unreachable")

// ErrTimeout means the endpoint accepted the connection but did not
// answer in time. It is retried with backoff.
var ErrTimeout = errors.New("model endpoint timed out")

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("model endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("model endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retriable reports whether the status is a server-side failure.
func (e *StatusError) Retriable() bool { return e.StatusCode >= 500 }

// IsRetriable reports whether err is worth another attempt: timeouts and
// 5xx answers are, connection failures and 4xx answers are not.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	return false
}

// classifyTransport maps an error from the HTTP round trip onto the
// taxonomy above. ctx is the caller's context: when it is already done
// the error is returned unchanged so cancellation is not mistaken for an
// endpoint timeout.
func classifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
