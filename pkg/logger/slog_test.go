package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(slog.LevelInfo, &buf)

	log.Debug("hidden", "k", "v")
	assert.Empty(t, buf.String(), "debug below minimum level is dropped")

	log.Info("connected", "client_id", "dev-1")
	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "client_id=dev-1")

	buf.Reset()
	log.Warn("slow handler")
	assert.Contains(t, buf.String(), "WRN")

	buf.Reset()
	log.Error("stream failed", "error", "EOF")
	out = buf.String()
	assert.Contains(t, out, "ERR")
	assert.Contains(t, out, "error=EOF")
}

func TestNopLogger(t *testing.T) {
	// Must not panic and must accept any arguments
	log := Nop()
	log.Debug("a")
	log.Info("b", "k", 1)
	log.Warn("c")
	log.Error("d", "err", nil)
}
