package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	assert.False(t, Enabled(LevelInfo))
	assert.True(t, Enabled(LevelError))

	SetLevel(LevelDebug)
	assert.True(t, Enabled(LevelDebug))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recommend.log")
	Init(Options{Level: "debug", Format: "json", File: path})
	defer Init(Options{})

	WithContext(map[string]interface{}{"session": "s-1", "intent": "SEARCH"}).Infof("turn done in %dms", 12)
	Debugf("debug line")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "[intent=SEARCH session=s-1] turn done in 12ms")
	assert.Contains(t, out, "debug line")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}
