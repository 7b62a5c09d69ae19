package server

import (
	"errors"

	"gridplay-server/internal/store"
)

// Protocol error codes reported to clients. State-conflict codes
// (invalid_move, invalid_state, not_your_turn) are expected under races
// and are ordinary flow control, not failures.
const (
	CodeInvalidJSON    = "invalid_json"
	CodeInvalidPayload = "invalid_payload"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeInvalidState   = "invalid_state"
	CodeInvalidMove    = "invalid_move"
	CodeNotYourTurn    = "not_your_turn"
	CodeUnknownType    = "unknown_type"
	CodeServerError    = "server_error"
)

// CodedError carries a protocol error code plus a user-safe message.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return e.Code + ": " + e.Message
}

func coded(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// asCoded maps any handler error to a reportable (code, message) pair.
// Unrecognized errors become a generic server_error so internals never
// leak to clients.
func asCoded(err error) *CodedError {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, store.ErrNotFound) {
		return coded(CodeNotFound, "Not found")
	}
	return coded(CodeServerError, "Something went wrong")
}
