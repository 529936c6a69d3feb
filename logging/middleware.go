package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/dpup/obsidian/errors"
)

const stackSize = 5

// Middleware scopes a logger to each request, recovers panics and writes one
// log line per request. The base logger is taken from ctx.
func Middleware(ctx context.Context, next http.Handler) http.Handler {
	base := FromContext(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rctx := With(r.Context(), base.Named(r.Method+" "+r.URL.Path))
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				Track(rctx, "error.panic", true)
				TrackError(rctx, errors.Wrap(rec, 2))
				if !rw.wrote {
					http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}
			l := FromContext(rctx).
				With("http.status", rw.status).
				With("http.duration", time.Since(start))
			switch {
			case rw.status >= 500:
				l.Error("request failed")
			case rw.status >= 400:
				l.Warn("request rejected")
			default:
				l.Info("request handled")
			}
		}()

		next.ServeHTTP(rw, r.WithContext(rctx))
	})
}

// TrackError adds error details to the request scope, so they appear on the
// request's log line.
func TrackError(ctx context.Context, err error) {
	Track(ctx, "error", err.Error())
	Track(ctx, "error.type", reflect.TypeOf(err).String())
	Track(ctx, "error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		Track(ctx, "error.stack_trace", e.MinimalStack(0, stackSize))
		Track(ctx, "error.original_type", e.TypeName())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
