package rpc

import "errors"

// Kind classifies an rpc.Error the way the session layer reports failures
// back across the wire (§4.2). Callers match on Kind with errors.Is against
// the sentinel of the same name, not on Error()'s text.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindDisconnected
	KindNotAuthorized
	KindUnknownGrain
	KindUnknownMethod
	KindArgumentDecode
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindDisconnected:
		return "Disconnected"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindUnknownGrain:
		return "UnknownGrain"
	case KindUnknownMethod:
		return "UnknownMethod"
	case KindArgumentDecode:
		return "ArgumentDecodeError"
	case KindApplication:
		return "Application"
	default:
		return "Unknown"
	}
}

// Error is the typed error every RPC-layer failure is wrapped in before it
// crosses a Go API boundary or gets encoded into a Response frame.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func WrapError(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// Sentinels usable with errors.Is against the Kind carried by an *Error.
var (
	ErrTimeout        = &Error{Kind: KindTimeout, Message: "request timed out"}
	ErrDisconnected   = &Error{Kind: KindDisconnected, Message: "peer disconnected"}
	ErrNotAuthorized  = &Error{Kind: KindNotAuthorized, Message: "caller not authorized for this method"}
	ErrUnknownGrain   = &Error{Kind: KindUnknownGrain, Message: "no grain registered for this interface"}
	ErrUnknownMethod  = &Error{Kind: KindUnknownMethod, Message: "no such method on this grain"}
	ErrArgumentDecode = &Error{Kind: KindArgumentDecode, Message: "failed to decode arguments"}
)

// Is lets errors.Is match two *Error values (or a sentinel) by Kind alone,
// so a wrapped error with extra Message/Cause context still compares equal
// to the bare sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}
