package automation

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the dispatcher's logging and metrics.
type Kind int

const (
	// KindValidation: the reading or an override is malformed.
	KindValidation Kind = iota + 1
	// KindScheduleFormat: a light schedule bound could not be parsed.
	KindScheduleFormat
	// KindPersistence: the persistence gateway failed.
	KindPersistence
	// KindTransport: the message bus is unreachable.
	KindTransport
	// KindDecode: an inbound payload is not a JSON object.
	KindDecode
	// KindPublish: a decision could not be encoded or handed to the bus.
	KindPublish
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindScheduleFormat:
		return "schedule_format"
	case KindPersistence:
		return "persistence"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

var (
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidField   = errors.New("field is not numeric")
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidPlantID = errors.New("invalid plant id")
)

// Error wraps a failure with its Kind, the operation and the plant involved.
type Error struct {
	Kind    Kind
	Op      string
	PlantID int64
	Err     error
}

func (e *Error) Error() string {
	if e.PlantID != 0 {
		return fmt.Sprintf("%s: plant %d: %s: %v", e.Op, e.PlantID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, plantID int64, err error) *Error {
	return &Error{Kind: kind, Op: op, PlantID: plantID, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Invalid marks validation failures for callers that map errors to HTTP status.
func (e *Error) Invalid() bool { return e.Kind == KindValidation }
