// Package skerr provides functions for adding call-site context to errors.
// Errors created or wrapped here remember where they were first seen, which
// makes the eventual log line useful without hand-written breadcrumbs at
// every level of the call chain.
package skerr

import (
	"fmt"
	"runtime"
	"strings"
)

// StackFrame identifies one frame of the call stack captured when an error
// was created or wrapped.
type StackFrame struct {
	File string
	Line int
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

// ErrorWithContext wraps an underlying error together with the call stack at
// the point of wrapping and an optional message.
type ErrorWithContext struct {
	// Wrapped is the underlying error, or nil if this error was created
	// with Fmt.
	Wrapped error
	// CallStack starts at the caller of Fmt/Wrap/Wrapf.
	CallStack []StackFrame
	Message   string
}

// Error implements the error interface.
func (e *ErrorWithContext) Error() string {
	var sb strings.Builder
	if e.Message != "" {
		sb.WriteString(e.Message)
	}
	if e.Wrapped != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Wrapped.Error())
	}
	if len(e.CallStack) > 0 {
		sb.WriteString(" At")
		for _, frame := range e.CallStack {
			sb.WriteString(" ")
			sb.WriteString(frame.String())
		}
	}
	return sb.String()
}

// Unwrap makes ErrorWithContext compatible with errors.Is and errors.As.
func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

// callStack returns up to depth frames, starting skip levels above the
// caller of callStack.
func callStack(depth, skip int) []StackFrame {
	stack := make([]StackFrame, 0, depth)
	for i := 0; i < depth; i++ {
		_, file, line, ok := runtime.Caller(skip + i)
		if !ok {
			break
		}
		// Trim to the last two path elements, which is plenty to locate
		// the file and keeps log lines short.
		parts := strings.Split(file, "/")
		if len(parts) > 2 {
			file = strings.Join(parts[len(parts)-2:], "/")
		}
		stack = append(stack, StackFrame{File: file, Line: line})
	}
	return stack
}

// Fmt creates an error with a call stack, formatting the message like
// fmt.Errorf.
func Fmt(fmtStr string, args ...interface{}) error {
	return &ErrorWithContext{
		Message:   fmt.Sprintf(fmtStr, args...),
		CallStack: callStack(4, 2),
	}
}

// Wrap adds a call stack to err. If err is nil, Wrap returns nil, so the
// return value of a function can be wrapped unconditionally. If err already
// carries a call stack, it is returned unchanged to avoid stacking stacks.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ErrorWithContext); ok {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(4, 2),
	}
}

// Wrapf adds a call stack and a formatted message to err. Unlike Wrap, the
// message is always attached, even if err was wrapped before; use it when the
// extra context (parameters, paths) is worth repeating. Returns nil if err is
// nil.
func Wrapf(err error, fmtStr string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		Message:   fmt.Sprintf(fmtStr, args...),
		CallStack: callStack(4, 2),
	}
}

// Unwrap returns the innermost error that is not an ErrorWithContext. Useful
// for comparing against sentinel errors from other packages; prefer errors.Is
// in new code.
func Unwrap(err error) error {
	for {
		wrapper, ok := err.(*ErrorWithContext)
		if !ok || wrapper.Wrapped == nil {
			return err
		}
		err = wrapper.Wrapped
	}
}
