// pkg/wazuh/errors.go

package wazuh

import (
	"errors"
	"fmt"
)

// AuthError means the manager refused the credentials or the authenticate
// endpoint could not be reached. It aborts the connection's pass.
type AuthError struct {
	URL    string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("wazuh authentication failed at %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("wazuh authentication failed at %s: %v", e.URL, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a failed manager or indexer fetch. Status is zero for
// transport failures.
type APIError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("wazuh %s: HTTP %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("wazuh %s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsAPIError reports whether err carries an *APIError.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
