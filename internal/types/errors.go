package types

import "fmt"

// ErrorCode is a wire-level failure kind.
type ErrorCode string

const (
	ErrWrongPhase          ErrorCode = "WRONG_PHASE"
	ErrDeadPlayer          ErrorCode = "DEAD_PLAYER"
	ErrInvalidTarget       ErrorCode = "INVALID_TARGET"
	ErrAlreadySubmitted    ErrorCode = "ALREADY_SUBMITTED"
	ErrIdempotentDuplicate ErrorCode = "IDEMPOTENT_DUPLICATE"
	ErrRoomFull            ErrorCode = "ROOM_FULL"
	ErrRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrInvalidName         ErrorCode = "INVALID_NAME"
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
)

// GameError is the single error shape surfaced to clients.
type GameError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Context   string    `json:"context,omitempty"`
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewGameError(code ErrorCode, msg string, retryable bool) *GameError {
	return &GameError{Code: code, Message: msg, Retryable: retryable}
}

// Internal wraps an unexpected failure as a retryable INTERNAL_ERROR.
func Internal(msg string) *GameError {
	return &GameError{Code: ErrInternal, Message: msg, Retryable: true}
}

// Unauthorized is the catch-all for schema, token, and identity failures.
func Unauthorized(msg string) *GameError {
	return &GameError{Code: ErrUnauthorized, Message: msg, Retryable: false}
}

// AsGameError normalises any error into a GameError, defaulting to
// INTERNAL_ERROR for unknown kinds.
func AsGameError(err error) *GameError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GameError); ok {
		return ge
	}
	return Internal(err.Error())
}
