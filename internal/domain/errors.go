package domain

import "errors"

// ErrorKind classifies collaborator failures so callers can branch on the
// kind without inspecting concrete error types.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	// ErrKindNetwork is a transport failure: no response was received.
	ErrKindNetwork
	// ErrKindProtocol is a response the platform rejected or that could not be parsed.
	ErrKindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// KindedError is implemented by collaborator errors that carry an ErrorKind.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// KindOf returns the kind of the first KindedError in err's chain.
func KindOf(err error) ErrorKind {
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	return ErrKindUnknown
}
