package evolution

import (
	"errors"
	"fmt"
	"time"
)

// ThrottledError is a 429 from the provider. RetryAfter is zero when the
// provider did not send a usable Retry-After header.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider throttled, retry after %s", e.RetryAfter)
	}
	return "provider throttled"
}

// TransportError wraps network failures, timeouts and 5xx responses. These
// are worth retrying; 4xx rejections are not.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("provider transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	var throttled *ThrottledError
	var transport *TransportError
	return errors.As(err, &throttled) || errors.As(err, &transport)
}

func asThrottled(err error, target **ThrottledError) bool {
	return errors.As(err, target)
}
