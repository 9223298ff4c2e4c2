// Package checkpoint decorates errors with the file and line they passed through,
// building something similar to a stacktrace while the error travels up from the
// device to the caller of the filesystem.
//
// A checkpoint keeps two errors: the cause it wraps and an optional sentinel that
// describes the failure at this level. errors.Is and errors.As see both.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err in a checkpoint carrying the caller location.
// It returns nil if err is nil.
func From(err error) error {
	if passthrough(err) {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap records a checkpoint for cause and attaches err as the description of
// what failed at this level:
//
//	var ErrNoSpace = errors.New("no space left")
//
//	func allocate() error {
//		_, err := table.scan()
//		return checkpoint.Wrap(err, ErrNoSpace)
//	}
//
// errors.Is(result, ErrNoSpace) and errors.Is(result, <cause>) are both true.
// Wrap returns nil if cause is nil. A nil err produces a plain location checkpoint.
func Wrap(cause, err error) error {
	if passthrough(cause) {
		return cause
	}

	return newCheckpoint(err, cause)
}

// Errorf creates a checkpoint for the sentinel err with a formatted detail
// message as its cause. It is the usual way to raise a sentinel without an
// underlying error:
//
//	return checkpoint.Errorf(ErrNotFound, "lookup %q", name)
func Errorf(err error, format string, args ...interface{}) error {
	return newCheckpoint(err, &detail{msg: fmt.Sprintf(format, args...)})
}

// passthrough reports whether err must be returned untouched.
// io.EOF and io.ErrUnexpectedEOF are compared by identity by most readers.
// https://github.com/golang/go/issues/39155
func passthrough(err error) bool {
	return err == nil || err == io.EOF || err == io.ErrUnexpectedEOF
}

func newCheckpoint(err, prev error) *checkpoint {
	// Skip newCheckpoint and the exported constructor.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:      err,
		prev:     prev,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if !e.callerOk {
		return "File: unknown"
	}
	return fmt.Sprintf("File: %s:%d", e.file, e.line)
}

func (e *checkpoint) Error() string {
	var b strings.Builder
	b.WriteString(e.location())

	if e.err != nil {
		b.WriteString("\n\t")
		b.WriteString(e.err.Error())
	}

	if e.prev == nil {
		return b.String()
	}

	// Only foreign errors get indented, nested checkpoints format themselves.
	prev := e.prev.Error()
	if _, ok := e.prev.(*checkpoint); !ok {
		prev = "File: unknown\n\t" + strings.ReplaceAll(prev, "\n", "\n\t")
	}

	b.WriteString("\n")
	b.WriteString(prev)
	return b.String()
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	return e.err != nil && errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return e.err != nil && errors.As(e.err, target)
}

// detail is the cause created by Errorf.
type detail struct {
	msg string
}

func (d *detail) Error() string {
	return d.msg
}
