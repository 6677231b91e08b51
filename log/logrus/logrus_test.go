package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachegraph/log"
)

func TestLogrusLoggerTagsComponent(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Info("lock acquired", log.Fields{"resource": "invoice:7"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.InfoLevel, entry.Level)
	require.Equal(t, "lock acquired", entry.Message)
	require.Equal(t, "cachegraph", entry.Data["component"])
	require.Equal(t, "invoice:7", entry.Data["resource"])
}

func TestLogrusLoggerLevels(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Debug("d", nil)
	l.Warn("w", nil)
	l.Error("e", nil)

	require.Len(t, hook.Entries, 3)
	require.Equal(t, logrus.DebugLevel, hook.Entries[0].Level)
	require.Equal(t, logrus.WarnLevel, hook.Entries[1].Level)
	require.Equal(t, logrus.ErrorLevel, hook.Entries[2].Level)
}
