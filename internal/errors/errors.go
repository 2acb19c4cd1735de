package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// New returns an error with the given text.
func New(text string) error { return stderrors.New(text) }

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

// ErrDatabaseQuery is a transient datastore failure. Callers must not treat
// it as an empty result.
type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

type ErrTenantNotFound struct {
	TenantID string
}

func (e *ErrTenantNotFound) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.TenantID)
}

// ErrMarkerConflict is returned when a marker write loses an optimistic
// concurrency race.
type ErrMarkerConflict struct {
	TenantID string
	Expected int64
}

func (e *ErrMarkerConflict) Error() string {
	return fmt.Sprintf("notification markers for %s changed concurrently (expected version %d)", e.TenantID, e.Expected)
}

// Quota errors

// ErrCapReached is the user-visible denial for a quota-consuming action
// attempted while the tenant is at its monthly cap.
type ErrCapReached struct {
	TenantID  string
	Used      int64
	Cap       int64
	ResetDate time.Time
}

func (e *ErrCapReached) Error() string {
	return fmt.Sprintf("monthly cap reached for %s (%d/%d), resets %s", e.TenantID, e.Used, e.Cap, e.ResetDate.Format(time.RFC3339))
}

type ErrInvalidCap struct {
	TenantID string
	Cap      int64
}

func (e *ErrInvalidCap) Error() string {
	return fmt.Sprintf("invalid monthly cap %d for tenant %s", e.Cap, e.TenantID)
}

// Notification errors

type ErrNotificationSend struct {
	Kind     string
	TenantID string
	Err      error
}

func (e *ErrNotificationSend) Error() string {
	return fmt.Sprintf("failed to send %s notification to %s: %v", e.Kind, e.TenantID, e.Err)
}

func (e *ErrNotificationSend) Unwrap() error {
	return e.Err
}

// ErrPassLocked means another daily pass holds the pass lock.
type ErrPassLocked struct {
	Key string
}

func (e *ErrPassLocked) Error() string {
	return fmt.Sprintf("daily pass already running (lock %s)", e.Key)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
