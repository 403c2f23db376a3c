package forecast

import "fmt"

// Kind names a forecast failure class. The values are part of the snapshot's
// JSON and stay stable.
type Kind string

const (
	KindNoCredential   Kind = "no_credential"
	KindNetwork        Kind = "network_error"
	KindSchemaMismatch Kind = "schema_mismatch"
	KindJSONParse      Kind = "json_parse_error"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("forecast %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("forecast %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
