package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors.
var (
	ErrSpawn              = errors.New("spawn failed")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotInitialized     = errors.New("session not initialized")
	ErrTimeout            = errors.New("timed out")
	ErrCancelled          = errors.New("cancelled")
	ErrStorage            = errors.New("storage error")
	ErrProtocolDecode     = errors.New("protocol decode error")

	ErrAgentNotFound    = fmt.Errorf("agent %w", ErrNotFound)
	ErrTaskNotFound     = fmt.Errorf("task %w", ErrNotFound)
	ErrTeamNotFound     = fmt.Errorf("team %w", ErrNotFound)
	ErrSessionClosed    = fmt.Errorf("session shut down: %w", ErrTeamNotFound)
	ErrInvalidAgentName = errors.New("invalid agent name")
	ErrInvalidTeamName  = errors.New("invalid team name")
	ErrReservedName     = errors.New("name is reserved for the controller")
	ErrAgentRunning     = errors.New("agent already running")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrEmptySubject     = errors.New("subject cannot be empty")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrNoFieldsToUpdate = errors.New("no fields to update")
	ErrInvalidEnvVar    = errors.New("invalid environment variable name")
	ErrConfigExists     = errors.New("config file already exists")
	ErrNotGitRepository = errors.New("not a git repository")
)

// SpawnError reports why an agent process could not be started.
type SpawnError struct {
	Err  error
	Name string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn agent %q: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error { return e.Err }

// Is matches ErrSpawn.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// TimeoutError is returned when a wait exceeds its deadline.
// It names the configured duration.
type TimeoutError struct {
	Op      string
	Agent   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("%s: no reply from %q after %s: %v", e.Op, e.Agent, e.Timeout, ErrTimeout)
	}
	return fmt.Sprintf("%s: %v after %s", e.Op, ErrTimeout, e.Timeout)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CancelledError is returned to waiters whose request was invalidated.
type CancelledError struct {
	Reason string
	Agent  string
}

func (e *CancelledError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("request to %q %v: %s", e.Agent, ErrCancelled, e.Reason)
	}
	return fmt.Sprintf("request %v: %s", ErrCancelled, e.Reason)
}

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// StorageError wraps an I/O failure of a file-backed store.
type StorageError struct {
	Err  error
	Op   string
	Path string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
