package upload

import "fmt"

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeDestinationNotFound = "E_DESTINATION_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeDeliveryFailed      = "E_DELIVERY_FAILED"
)

// Error wraps sink failures with retryability hints. Transient transport
// failures retry; a missing destination cannot be fixed by retrying.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// IsDestinationNotFound reports whether err marks an unresolvable destination.
func IsDestinationNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == CodeDestinationNotFound
}
