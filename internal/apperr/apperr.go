// Package apperr defines the error kinds surfaced by the rewards core to its callers.
package apperr

import "errors"

// Kind classifies a failure so the transport layer can render it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConnect means the ledger gateway could not be initialized. Fatal at startup.
	KindConnect
	// KindProvision means account provisioning failed after exhausting its retries.
	KindProvision
	// KindTransfer means a token transfer was rejected or never confirmed.
	KindTransfer
	// KindQuery means a balance query failed.
	KindQuery
	// KindNotFound means the requested user is not registered.
	KindNotFound
	// KindValidation means a required field was missing or malformed.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindProvision:
		return "provision"
	case KindTransfer:
		return "transfer"
	case KindQuery:
		return "query"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error carries a kind, a human readable message and the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Validation is shorthand for a KindValidation error without a cause.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
