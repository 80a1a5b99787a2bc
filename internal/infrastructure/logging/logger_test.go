package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)

	assert.NotNil(t, NewDefault())
	dev := NewDevelopment()
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &Logger{Logger: zap.New(core)}
	l.Component("loader").Info("Module loaded")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "loader", logs.All()[0].LoggerName)
}

func TestConsoleWriterSplitsLines(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := NewConsoleWriter(zap.New(core))

	n, err := w.Write([]byte("hello from "))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Zero(t, logs.Len())

	_, _ = w.Write([]byte("module\nsecond line\r\n\npartial"))
	msgs := []string{}
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"hello from module", "second line"}, msgs)

	w.Flush()
	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "partial", logs.All()[2].Message)
	assert.Equal(t, "console", logs.All()[2].ContextMap()["source"])
}
