package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/slimbus-go/slimbus/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestInitAndL(t *testing.T) {
	l := logger.Init(logger.Config{Level: "DEBUG", Format: "JSON", Async: false})
	require.NotNil(t, l)
	require.Same(t, l, logger.L())

	l.InfoContext(context.Background(), "hello", "key", "value")
}

func TestSamplingHandlerNeverDropsErrors(t *testing.T) {
	var buf bytes.Buffer
	h := logger.NewSamplingHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), 0)
	l := slog.New(h)
	require.NotNil(t, l)
	// Level >= Error must always pass through even with a zero sampling rate.
	l.ErrorContext(context.Background(), "boom")
	l.InfoContext(context.Background(), "quiet")
	require.Contains(t, buf.String(), "boom")
	require.NotContains(t, buf.String(), "quiet")
}
