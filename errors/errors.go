package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Class groups failures by how the session reacts to them.
type Class int

const (
	// ClassUnknown is any error that was not classified.
	ClassUnknown Class = iota
	// ClassCallerState covers inconsistent conversation state such as an empty
	// message log. It is recovered locally with a safe default.
	ClassCallerState
	// ClassCollaborator covers model and search failures. The turn is aborted
	// and the session continues.
	ClassCollaborator
	// ClassUserInput covers missing input at an approval prompt.
	ClassUserInput
)

func (c Class) String() string {
	switch c {
	case ClassCallerState:
		return "caller_state"
	case ClassCollaborator:
		return "collaborator"
	case ClassUserInput:
		return "user_input"
	default:
		return "unknown"
	}
}

// ClassifiedError attaches a Class to an underlying error.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err)
}

// CallerState creates a ClassCallerState error.
func CallerState(format string, a ...interface{}) error {
	return &ClassifiedError{
		Class: ClassCallerState,
		Err:   fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...)),
	}
}

// Collaborator wraps a failure of an external collaborator.
// If the provided error is nil, Collaborator returns nil.
func Collaborator(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class: ClassCollaborator,
		Err:   fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err),
	}
}

// UserInput creates a ClassUserInput error.
func UserInput(format string, a ...interface{}) error {
	return &ClassifiedError{
		Class: ClassUserInput,
		Err:   fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...)),
	}
}

// ClassOf returns the class of the outermost classified error in err's chain.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
