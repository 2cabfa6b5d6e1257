package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound    ErrCode = "NOT_FOUND"
	ErrCodeRateLimited ErrCode = "RATE_LIMITED"
	ErrCodeInternal    ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest  ErrCode = "BAD_REQUEST"
	ErrCodeRemote      ErrCode = "REMOTE_ERROR"
)

// Phases reported when a remote call fails
const (
	PhaseTestCall          = "Test API Call"
	PhaseArchiveFlag       = "Getting Archive Flag"
	PhasePage              = "Getting Page of Repositories"
	PhaseIndividualRepo    = "Getting Individual Repositories"
	PhaseContributors      = "Getting Contributors"
	PhaseArchiving         = "Archiving Repository"
	PhaseUnarchivingFormat = "Unarchiving batch %d, %s"
	PhaseRestoringFormat   = "Restoring batch %d, %s to stored repositories"
)

var (
	// ErrNoRepositories is returned when an organization listing is empty
	ErrNoRepositories = &AppError{Code: ErrCodeNotFound, Message: "no repositories found"}

	// ErrRepositoryNotTracked is returned for ledger edits on unknown names
	ErrRepositoryNotTracked = NewNotFoundError("tracked repository")
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// PhaseError is a remote-call failure tagged with the stage that failed
type PhaseError struct {
	Phase      string
	StatusCode int
	Message    string
	Err        error
}

func (e *PhaseError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("Error %d: %s (Point of Failure: %s)", e.StatusCode, e.Message, e.Phase)
	}
	return fmt.Sprintf("Error: %s (Point of Failure: %s)", e.Message, e.Phase)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// NewPhaseError wraps a remote failure with its phase.
// An existing PhaseError keeps its status and message but takes the new phase.
func NewPhaseError(phase string, err error) *PhaseError {
	pe := &PhaseError{Phase: phase, Err: err}

	var remote *RemoteError
	var inner *PhaseError
	switch {
	case stderrors.As(err, &inner):
		pe.StatusCode = inner.StatusCode
		pe.Message = inner.Message
	case stderrors.As(err, &remote):
		pe.StatusCode = remote.StatusCode
		pe.Message = remote.Message
	case err != nil:
		pe.Message = err.Error()
	}
	return pe
}

// RemoteError is a non-2xx response or transport failure from the remote API
type RemoteError struct {
	StatusCode int
	Message    string
	// RateLimited is set when the remote refused the call for exceeding a
	// primary or secondary rate limit
	RateLimited bool
	// RetryAfter is how long the remote asked callers to wait, when known
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("Error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Error: %s", e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsBadRequest checks if the error is a bad request error
func IsBadRequest(err error) bool {
	return hasCode(err, ErrCodeBadRequest)
}

// IsRateLimited reports whether a rate-limited RemoteError is in the chain
func IsRateLimited(err error) bool {
	var remote *RemoteError
	return stderrors.As(err, &remote) && remote.RateLimited
}

// RetryAfter returns the wait the remote asked for, if any
func RetryAfter(err error) (time.Duration, bool) {
	var remote *RemoteError
	if stderrors.As(err, &remote) && remote.RetryAfter > 0 {
		return remote.RetryAfter, true
	}
	return 0, false
}

// AsPhaseError extracts a PhaseError from the chain
func AsPhaseError(err error) (*PhaseError, bool) {
	var pe *PhaseError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
