package httpclient

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrHTTPClient marks every error returned by Send.
var ErrHTTPClient = errors.New("http client error")

// Error represents a non-2xx provider response.
type Error struct {
	StatusCode int
	Response   []byte
}

func (e *Error) Error() string {
	body := string(e.Response)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("http client error: status %d: %s", e.StatusCode, body)
}

func (e *Error) Unwrap() error {
	return ErrHTTPClient
}

// NewError creates a new HTTP client error
func NewError(statusCode int, response []byte) *Error {
	return &Error{
		StatusCode: statusCode,
		Response:   response,
	}
}

// IsHTTPError checks if an error is an HTTP client error
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
