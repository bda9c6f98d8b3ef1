package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "calendar", "c1")
	Error("shown error", errors.New("boom"), "status", 502)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn calendar=c1")
	assert.Contains(t, out, "[ERROR] shown error err=boom status=502")
}

func TestValuesWithSpacesAreQuoted(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("sync done", "name", "Uni timetable", "odd")

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasSuffix(line, `sync done name="Uni timetable"`), line)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" Warning ", LevelWarn},
		{"ERROR", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ParseLevel(test.in), test.in)
	}
}
