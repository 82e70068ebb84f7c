package logging

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	logger := New("debug", "text")
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = New("nonsense", "json")
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestContextCarriesEntry(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	entry := logger.WithField("request_id", "r-1")
	ctx := WithEntry(context.Background(), entry)

	got, ok := Lookup(ctx)
	require.True(t, ok)
	require.Same(t, entry, got)

	FromContext(ctx).Info("hello")
	require.Len(t, hook.Entries, 1)
	require.Equal(t, "r-1", hook.LastEntry().Data["request_id"])

	_, ok = Lookup(context.Background())
	require.False(t, ok)
	require.NotNil(t, FromContext(context.Background()))
}
