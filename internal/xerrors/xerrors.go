// Package xerrors attaches call sites to errors. New, Newf, WithStack and
// Join record the full stack; Wrap and Wrapf record the single caller.
// The logger reads them back through PC and StackPCs.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxFrames = 64

type traced struct {
	err error
	pcs []uintptr
}

func (e *traced) Error() string       { return e.err.Error() }
func (e *traced) Unwrap() error       { return e.err }
func (e *traced) StackPCs() []uintptr { return e.pcs }

type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (e *annotated) Error() string { return e.msg + ": " + e.err.Error() }
func (e *annotated) Unwrap() error { return e.err }
func (e *annotated) PC() uintptr   { return e.pc }

type joined struct {
	errs []error
	pcs  []uintptr
}

func (e *joined) Error() string       { return errors.Join(e.errs...).Error() }
func (e *joined) Unwrap() []error     { return e.errs }
func (e *joined) StackPCs() []uintptr { return e.pcs }

// stack returns the PCs above the exported constructor that called it.
func stack() []uintptr {
	pcs := make([]uintptr, maxFrames)
	// runtime.Callers, stack, constructor
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

// caller returns the PC of whoever called the exported constructor.
func caller() uintptr {
	var pc [1]uintptr
	if runtime.Callers(3, pc[:]) == 0 {
		return 0
	}
	return pc[0]
}

func New(msg string) error { return &traced{err: errors.New(msg), pcs: stack()} }

func Newf(format string, args ...any) error {
	return &traced{err: fmt.Errorf(format, args...), pcs: stack()}
}

// WithStack records the caller's stack on err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &traced{err: err, pcs: stack()}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}

// Join is errors.Join with the caller's stack. nil entries are dropped and
// nil is returned when nothing is left.
func Join(errs ...error) error {
	kept := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &joined{errs: kept, pcs: stack()}
}
