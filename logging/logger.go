// Package logging provides a context scoped, structured logging interface
// backed by zap.
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context.
//
// This can be used to create logging scopes like so:
//
//	for _, id := range sagaIDs {
//	  ctx := With(ctx, logger.Named(id))
//	  sweep(ctx, id)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{
		logger: logger,
	})
}

// FromContext returns the scoped logger. A no-op logger is returned when the
// context carries none, so callers never need a nil check.
func FromContext(ctx context.Context) Logger {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if ok {
		return c.logger
	}
	return nopLogger
}

// EnsureLogger returns a context that carries a logger. If ctx already has one
// it is returned unchanged, otherwise a development logger is attached.
func EnsureLogger(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return ctx
	}
	return With(ctx, NewDevLogger())
}

// Track a field across the lifetime of the context. Tracked values persist
// back up the call-chain to the request middleware, so do not use this as a
// convenience in loops without creating a new scope using
// `logging.With(ctx, logger.Named("foo"))`.
func Track(ctx context.Context, field string, value any) {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger provides an abstract logging interface designed around uber-go/zap's
// sugared logger.
type Logger interface {
	Debug(args ...any)
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warn(args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)
	Fatal(args ...any)
	Fatalw(msg string, keysAndValues ...any)
	Fatalf(msg string, args ...any)

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger and attaches structured context to it.
	With(field string, value any) Logger
}

func Debug(ctx context.Context, msg string) {
	FromContext(ctx).Debug(msg)
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Infof(msg, args...)
}

func Warn(ctx context.Context, msg string) {
	FromContext(ctx).Warn(msg)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warnf(msg, args...)
}

func Error(ctx context.Context, msg string) {
	FromContext(ctx).Error(msg)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Errorf(msg, args...)
}

func Fatalw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Fatalw(msg, fields...)
}
