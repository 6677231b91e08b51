package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/cachegraph/log"
)

func TestZapLoggerWritesFieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("scan round", log.Fields{"pattern": "order:*"})
	l.Warn("batch delete failed", log.Fields{"err": errors.New("boom"), "batch": 2})

	entries := logs.All()
	require.Len(t, entries, 2)

	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "cachegraph", entries[0].LoggerName)
	require.Equal(t, "order:*", entries[0].ContextMap()["pattern"])

	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	ctx := entries[1].ContextMap()
	require.Equal(t, "boom", ctx["err"])
	require.EqualValues(t, 2, ctx["batch"])
}

func TestZapLoggerNilFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Info("connected", nil)
	l.Error("unreachable", log.Fields{})

	require.Equal(t, 2, logs.Len())
	require.Empty(t, logs.All()[0].Context)
}
