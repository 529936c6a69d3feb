// Package errors provides an error type that carries a stack trace, a gRPC
// status code, an HTTP status code and a public message.
//
// Sentinel errors are declared once with NewC and then marked at the point
// they are returned, so that the stack trace points at the caller rather than
// at package initialization:
//
//	var ErrInvalidClient = errors.NewC("invalid_client", codes.Unauthenticated)
//
//	func lookup(id string) error {
//		return errors.Mark(ErrInvalidClient, 0)
//	}
//
// Marked errors still satisfy errors.Is against the sentinel.
package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxStackDepth is the maximum number of stackframes on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace. It can be used wherever the
// builtin error interface is expected.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string

	// gRPC status code to associate with an error response.
	code codes.Code

	// HTTP status code to associate with an error response. Overrides the
	// mapping from code when set.
	httpStatusCode int

	// Error message to return to clients.
	publicMessage string
}

// New makes an Error from the given value. If that value is already an error
// then it will be used directly, if not, it will be passed to fmt.Errorf("%v").
func New(e any) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with a status code defined.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 1)
}

func newError(e any, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(skip + 1),
		code:  code,
	}
}

// Wrap makes an Error from the given value. Errors which are already of type
// *Error are returned unchanged. The skip parameter indicates how far up the
// stack to start the stacktrace. 0 is from the current call, 1 from its
// caller, etc.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(e, codes.Unknown, skip+1)
}

// WrapPrefix wraps the error and adds a prefix to the message returned by
// Error(). Codes and public messages of an existing *Error are retained.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}
	err := Wrap(e, skip+1)
	return &Error{
		Err:            err,
		stack:          err.stack,
		code:           err.code,
		httpStatusCode: err.httpStatusCode,
		publicMessage:  err.publicMessage,
		prefix:         prefix,
	}
}

// Mark returns a copy of the error with the stack trace reset to the point
// Mark was called. The copy wraps the original, so errors.Is still matches
// sentinel values.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	err, ok := e.(*Error)
	if !ok {
		return Wrap(e, skip+1)
	}
	return &Error{
		Err:            err,
		stack:          callers(skip + 1),
		code:           err.code,
		httpStatusCode: err.httpStatusCode,
		publicMessage:  err.publicMessage,
	}
}

// WithPublicMessage wraps err and sets the message returned to clients.
func WithPublicMessage(err error, publicMessage string) *Error {
	if err == nil {
		return nil
	}
	return Mark(err, 1).WithPublicMessage(publicMessage)
}

// WithCode wraps err and sets its gRPC status code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Mark(err, 1).WithCode(code)
}

// WithHTTPStatusCode wraps err and sets an explicit HTTP status code,
// overriding the HTTP status mapped from the gRPC code.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Mark(err, 1).WithHTTPStatusCode(code)
}

// Errorf is a drop-in replacement for fmt.Errorf which records a stack trace.
// %w verbs are honoured.
func Errorf(format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), codes.Unknown, 1)
}

// Error returns the underlying error's message.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	return msg
}

// Stack returns the callstack formatted the same way that go does in
// runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns a string that contains both the error message and the
// callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// StackFrames returns an array of frames containing information about the
// stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// MinimalStack returns a compact, single line representation of the stack,
// suitable for structured logs.
func (err *Error) MinimalStack(skip, length int) string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return ""
	}
	frames = frames[skip:]
	if length > 0 && len(frames) > length {
		frames = frames[:length]
	}
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = fmt.Sprintf("%s:%d", f.Name, f.LineNumber)
	}
	return strings.Join(parts, " <- ")
}

// TypeName returns the type of the underlying error, e.g. *errors.errorString.
func (err *Error) TypeName() string {
	return reflect.TypeOf(err.Err).String()
}

// Unwrap the error (implements api for As function).
func (err *Error) Unwrap() error {
	return err.Err
}

// Code returns the gRPC status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the gRPC status code associated with the error.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// HTTPStatusCode returns the HTTP status code that should be returned to the
// client. If a code is set, it will be used, otherwise a default will be
// returned based on the gRPC code.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	switch err.code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WithHTTPStatusCode sets the HTTP status code that should be returned to the
// client.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// PublicMessage returns the error string that should be returned to the client.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the error string that should be returned to the client.
func (err *Error) WithPublicMessage(publicMessage string) *Error {
	err.publicMessage = publicMessage
	return err
}

// GRPCStatus returns a gRPC status object for the error.
func (err *Error) GRPCStatus() *status.Status {
	return status.New(err.Code(), err.PublicMessage())
}

// Code returns a gRPC status code for an error. If the error is nil, it
// returns codes.OK. If the error, or an error it wraps, exposes a `Code()`
// method, that code is returned. Otherwise codes.Unknown is returned.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var ce codedError
	if stderrors.As(err, &ce) {
		return ce.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns an HTTP status code for an error. If the error is nil,
// it returns http.StatusOK. Errors without an explicit status map to
// http.StatusInternalServerError.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var he httpError
	if stderrors.As(err, &he) {
		return he.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message that is safe to show clients. Errors
// which aren't of type *Error get a generic message.
func PublicMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.PublicMessage()
	}
	return http.StatusText(http.StatusInternalServerError)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(2+skip, stack)
	return stack[:length]
}
