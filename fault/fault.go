package fault

import "errors"

// Kind classifies why an operation was rejected. Every rejection carries
// exactly one kind and leaves no side effects behind.
type Kind string

const (
	Validation    Kind = "validation"
	Authorization Kind = "authorization"
	State         Kind = "state"
	Resource      Kind = "resource"
)

// KindUnknown is reported for errors that did not originate from this package.
const KindUnknown Kind = ""

// Error is a classified operation failure. Domain packages declare their
// sentinels with New and match them with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the classification from err, unwrapping as needed.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindUnknown
}
