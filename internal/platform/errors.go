package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the platform reports 404 for a project,
	// or when a backend does not belong to the requesting customer.
	ErrNotFound = errors.New("project not found")

	// ErrProvisionTimeout is returned when a project never reached the
	// healthy state within the poll budget. The remote project may still be
	// coming up.
	ErrProvisionTimeout = errors.New("project did not become ready in time")
)

// ProvisioningError is a non-2xx response from the management API. The
// upstream status and body are kept for operator diagnosis; they are never
// shown to customers.
type ProvisioningError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s failed: management API returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransientError wraps a network failure or 5xx response that the caller may
// retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed transiently: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SchemaApplicationError means DDL execution against a new project failed
// after retries. The remote project exists but is not usable.
type SchemaApplicationError struct {
	ProjectRef string
	Err        error
}

func (e *SchemaApplicationError) Error() string {
	return fmt.Sprintf("schema application failed for project %s: %v", e.ProjectRef, e.Err)
}

func (e *SchemaApplicationError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
