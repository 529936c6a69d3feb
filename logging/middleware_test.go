package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dpup/obsidian/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
)

func TestMiddleware(t *testing.T) {
	core, obs := observer.New(zap.DebugLevel)
	ctx := With(t.Context(), NewZapLogger(zap.New(core)))

	h := Middleware(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "client.id", "c1")
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth20/authorize", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, "GET /oauth20/authorize", entry.LoggerName)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Contains(t, entry.Context, zap.String("client.id", "c1"))
	assert.Contains(t, entry.Context, zap.Int("http.status", http.StatusCreated))
}

func TestMiddleware_TrackError(t *testing.T) {
	core, obs := observer.New(zap.DebugLevel)
	ctx := With(t.Context(), NewZapLogger(zap.New(core)))

	h := Middleware(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := errors.NewC("bad client", codes.InvalidArgument)
		TrackError(r.Context(), err)
		http.Error(w, err.Error(), errors.HTTPStatusCode(err))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Contains(t, entry.Context, zap.String("error", "bad client"))
	assert.Contains(t, entry.Context, zap.Int("error.http_status", http.StatusBadRequest))
}

func TestMiddleware_Panic(t *testing.T) {
	core, obs := observer.New(zap.DebugLevel)
	ctx := With(t.Context(), NewZapLogger(zap.New(core)))

	h := Middleware(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Context, zap.Bool("error.panic", true))
}
