/*package error contains the error taxonomy used by ddgrav's libraries and the
fatal reporters used by its driver.

Library code never exits. It returns errors tagged with one of three kinds:
Configuration (something a user can fix), Transport (a rank became unreachable
or sent a malformed message) and Invariant (a bug). None of them are
recoverable, so the driver hands every error to Fatal.
*/
package error

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

const (
	Unknown Kind = iota
	Configuration
	Transport
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transport:
		return "transport"
	case Invariant:
		return "invariant"
	}
	return "unknown"
}

// kindError attaches a Kind to an error carrying a stack trace.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s error: %s", e.kind, e.err.Error())
}

func (e *kindError) Cause() error  { return e.err }
func (e *kindError) Unwrap() error { return e.err }

// Format lets %+v print the stack captured by pkg/errors.
func (e *kindError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s error: %+v", e.kind, e.err)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// ConfigErrorf returns a Configuration error. It has the same signature as
// fmt.Errorf.
func ConfigErrorf(format string, a ...interface{}) error {
	return &kindError{Configuration, errors.Errorf(format, a...)}
}

// TransportErrorf returns a Transport error.
func TransportErrorf(format string, a ...interface{}) error {
	return &kindError{Transport, errors.Errorf(format, a...)}
}

// InvariantErrorf returns an Invariant error.
func InvariantErrorf(format string, a ...interface{}) error {
	return &kindError{Invariant, errors.Errorf(format, a...)}
}

// Wrap annotates err with msg. If err does not already carry a Kind, it is
// given kind. Wrap returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != Unknown {
		return errors.Wrap(err, msg)
	}
	return &kindError{kind, errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a format string.
func Wrapf(kind Kind, err error, format string, a ...interface{}) error {
	return Wrap(kind, err, fmt.Sprintf(format, a...))
}

// KindOf returns the Kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is returns true if err is tagged with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// exit is swapped out by tests.
var exit = os.Exit

// External reports an error to stderr and kills the program. It should be used
// when an error is something a user could reasonbly be expected to fix through
// changes in configuration/data/environement. It has the same signature as the
// standard fmt.*printf() functions.
func External(format string, a ...interface{}) {
	log.Printf("ddgrav exited early with the following error:\n"+format, a...)
	exit(1)
}

// Internal reports an error to stderr along with a stack trace and kills the
// program. It should be used when the error requires a code dive to fix. It
// has the same signature as the standard fmt.*printf() functions.
func Internal(format string, a ...interface{}) {
	log.Println("ddgrav exited early with the following error:")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	exit(1)
}

// Fatal reports err with External or Internal depending on its Kind. It does
// nothing if err is nil.
func Fatal(err error) {
	if err == nil {
		return
	}
	switch KindOf(err) {
	case Configuration:
		External("%s", err.Error())
	default:
		Internal("%+v", err)
	}
}
