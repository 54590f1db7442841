package transcribe

import "errors"

// ErrorKind classifies a transcription failure. The retry layer and
// the HTTP surface act on the kind, not on error text.
type ErrorKind int

const (
	// KindValidation marks bad request data. Never retried.
	KindValidation ErrorKind = iota
	// KindInference marks a failure during decode. Retried with a
	// model restart in between.
	KindInference
	// KindRecovery marks a failed recovery step. Logged, non-fatal.
	KindRecovery
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInference:
		return "inference"
	case KindRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Error tags a failure with its kind. The message stays the underlying
// error's, so client-facing bodies carry it verbatim.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError builds a request-rejection error.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Err: errors.New(msg)}
}

// KindOf extracts the kind from err. Untagged errors count as
// inference failures, matching how an unannotated backend exception
// is treated.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInference
}
