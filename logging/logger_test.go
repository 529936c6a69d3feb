package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrack(t *testing.T) {
	observedZapCore, observedLogs := observer.New(zap.InfoLevel)
	observedLogger := zap.New(observedZapCore)

	ctx := With(t.Context(), NewZapLogger(observedLogger))
	Track(ctx, "foo", "bar") // Should be passed on to child logger.

	ctx2 := With(ctx, FromContext(ctx).Named("nested"))
	Track(ctx2, "baz", "bam") // Should not propagate to root logger.

	Info(ctx, "root log")
	Info(ctx2, "nested log")

	require.Equal(t, 2, observedLogs.Len())
	allLogs := observedLogs.All()
	assert.Equal(t, "root log", allLogs[0].Message)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("foo", "bar"),
	}, allLogs[0].Context)

	assert.Equal(t, "nested log", allLogs[1].Message)
	assert.Equal(t, "nested", allLogs[1].LoggerName)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("foo", "bar"),
		zap.String("baz", "bam"),
	}, allLogs[1].Context)
}

func TestFromContext_NoLogger(t *testing.T) {
	l := FromContext(t.Context())
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.Infow("dropped", "k", "v") })
}

func TestEnsureLogger(t *testing.T) {
	ctx := EnsureLogger(t.Context())
	l := FromContext(ctx)
	assert.NotSame(t, nopLogger, l)

	assert.Equal(t, ctx, EnsureLogger(ctx), "existing logger should be kept")
}
