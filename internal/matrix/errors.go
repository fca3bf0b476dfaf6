package matrix

import (
	"errors"
	"fmt"

	"matrixbot/internal/domain"
)

// Matrix error codes the client reacts to.
const (
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// ErrResponseTooLarge is wrapped by the protocol error returned when a
// response body exceeds the client's read limit.
var ErrResponseTooLarge = errors.New("response too large")

// Error is returned by every Client call. Kind separates transport failures
// (no response) from responses the homeserver rejected or that could not be
// parsed. Callers can use errors.As to extract it:
//
//	var matrixErr *matrix.Error
//	if errors.As(err, &matrixErr) && matrixErr.Code == matrix.ErrCodeUnknownToken { ... }
type Error struct {
	Kind domain.ErrorKind
	// Op names the client operation, e.g. "sync" or "join".
	Op string
	// Code is the Matrix errcode (e.g. "M_FORBIDDEN"); empty for network errors.
	Code string
	// Message is the human-readable error description from the server.
	Message string
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == domain.ErrKindNetwork {
		return fmt.Sprintf("matrix: %s: %v", e.Op, e.Err)
	}
	if e.Code == "" && e.Err != nil {
		return fmt.Sprintf("matrix: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("matrix: %s: %s (%d): %s", e.Op, e.Code, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements domain.KindedError.
func (e *Error) ErrorKind() domain.ErrorKind { return e.Kind }

// IsCode checks whether err is an *Error with the given Matrix error code.
func IsCode(err error, code string) bool {
	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

func networkError(op string, err error) *Error {
	return &Error{Kind: domain.ErrKindNetwork, Op: op, Err: err}
}

func protocolError(op string, err error) *Error {
	return &Error{Kind: domain.ErrKindProtocol, Op: op, Err: err}
}
