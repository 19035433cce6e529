package llm

import "fmt"

// ErrorKind classifies gateway failures. Callers branch on kind for
// logging and metrics; user-facing responses stay generic.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // transport failure, timeout
	KindStatus  ErrorKind = "status"  // non-200 from the provider
	KindEmpty   ErrorKind = "empty"   // 200 but no content
	KindSchema  ErrorKind = "schema"  // content does not conform to the declared shape
)

// Error is the typed failure returned by the gateway. There is exactly
// one attempt per request; an Error is terminal for the call.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status when Kind == KindStatus
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }
