package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	l, err := New("alurea", "prod", "warn")
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zap.InfoLevel))
	require.True(t, l.Core().Enabled(zap.WarnLevel))

	_, err = New("alurea", "prod", "chatty")
	require.Error(t, err)

	dev, err := New("alurea", "dev", "")
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zap.DebugLevel))
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	l := zaptest.NewLogger(t)
	ctx := WithLogger(context.Background(), l)
	require.Same(t, l, FromContext(ctx))

	require.NotNil(t, FromContext(context.Background()))
	require.Equal(t, context.Background(), WithLogger(context.Background(), nil))
}
