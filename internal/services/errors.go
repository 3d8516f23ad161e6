package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrDuplicateAccount      = errors.New("account with that email address or username already exists")
	ErrNoSuchAccount         = errors.New("no account with that identity exists")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrTokenInvalidOrExpired = errors.New("password reset token is invalid or has expired")
	ErrNotFound              = errors.New("not found")
	ErrPartialWrite          = errors.New("partial write")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrDeliveryFailed        = errors.New("notification delivery failed")
	ErrInvalidImage          = errors.New("invalid image file")
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(keys, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PartialWriteError reports a primary document that was written while some of
// its back-references were not. It matches ErrPartialWrite.
type PartialWriteError struct {
	Primary string
	Failed  []string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s: %s written, back-references failed: %s", ErrPartialWrite, e.Primary, strings.Join(e.Failed, ", "))
}

func (e *PartialWriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPartialWrite}
	}
	return []error{ErrPartialWrite, e.Err}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// stamp normalizes times to what the document store can represent.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
