package errdefs

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed or missing required input.
// It is never retried and always surfaced to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidation creates a ValidationError with a formatted message
func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError indicates a stale document version; the caller must
// re-read and retry.
type ConflictError struct {
	Link            string
	CurrentVersion  int64
	ProposedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: current %d, proposed %d",
		e.Link, e.CurrentVersion, e.ProposedVersion)
}

// NotFoundError indicates the target document or resource is absent
type NotFoundError struct {
	Link string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Link) }

// AdapterError wraps a resource-layer failure; the owning task surfaces it
// as FAILED with the detail preserved.
type AdapterError struct {
	ResourceType string
	Op           string
	Err          error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s %s: %v", e.ResourceType, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// CallbackDeliveryError indicates a best-effort callback notification could
// not be delivered. It is logged and never affects the source task's stage.
type CallbackDeliveryError struct {
	Target string
	Err    error
}

func (e *CallbackDeliveryError) Error() string {
	return fmt.Sprintf("callback delivery to %s: %v", e.Target, e.Err)
}

func (e *CallbackDeliveryError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsAdapter reports whether err is an AdapterError
func IsAdapter(err error) bool {
	var a *AdapterError
	return errors.As(err, &a)
}

// IsCallbackDelivery reports whether err is a CallbackDeliveryError
func IsCallbackDelivery(err error) bool {
	var c *CallbackDeliveryError
	return errors.As(err, &c)
}
