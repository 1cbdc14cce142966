package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal restore error
type Kind int

const (
	// Unknown is any error not created through this package
	Unknown Kind = iota
	Args
	AlreadyRunning
	System
	PgRunning
	PgIncompatible
	NotSupported
	NoBackup
	Corrupted
	Interrupted
)

// Exit codes follow the numbering pg_rman users script against
var exitCodes = map[Kind]int{
	Unknown:        1,
	System:         10,
	Args:           12,
	Interrupted:    13,
	Corrupted:      20,
	AlreadyRunning: 21,
	PgIncompatible: 22,
	PgRunning:      23,
	NoBackup:       24,
	NotSupported:   25,
}

func (k Kind) String() string {
	switch k {
	case Args:
		return "argument error"
	case AlreadyRunning:
		return "already running"
	case System:
		return "system error"
	case PgRunning:
		return "server running"
	case PgIncompatible:
		return "incompatible backup"
	case NotSupported:
		return "not supported"
	case NoBackup:
		return "no usable backup"
	case Corrupted:
		return "corrupted"
	case Interrupted:
		return "interrupted"
	default:
		return "error"
	}
}

// Error is a restore error tagged with its kind
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind and a message. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps err to the process exit status. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return exitCodes[KindOf(err)]
}
