package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "warn", Output: &buf})
	log.Info("hidden").Send()
	log.Warn("shown").Send()

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["msg"])
	assert.Equal(t, "lexstore", got[0]["service"])
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "debug", Output: &buf})
	log.HistoryLogger("eu", "32016R0679").Info("merged").Send()
	log.AdminLogger("/{domain}/").Debug("upload").Send()

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "history", got[0]["component"])
	assert.Equal(t, "32016R0679", got[0]["id_local"])
	assert.Equal(t, "admin", got[1]["component"])
	assert.Equal(t, "/{domain}/", got[1]["route"])
}

func TestLogIncorporation(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf})
	inc := Incorporation{Domain: "eu", IDLocal: "32016R0679", Version: "initial", New: 3}
	log.LogIncorporation(inc, time.Millisecond, nil)
	log.LogIncorporation(inc, time.Millisecond, errors.New("boom"))

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.EqualValues(t, 3, got[0]["new"])
	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "boom", got[1]["error"])
}

func TestLogAdminRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Output: &buf})
	log.LogAdminRequest("DELETE", "/{domain}/{idLocal}/", 200, time.Millisecond)
	log.LogAdminRequest("POST", "/{domain}/", 503, time.Millisecond)

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "error", got[1]["level"])
}
