package logutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugSuppressedUnlessEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debugf("hidden %d", 1)
	require.Empty(t, buf.String())

	buf.Reset()
	l = New(&buf, true)
	l.Debugf("shown %d", 1)
	require.Contains(t, buf.String(), "shown 1")
}

func TestLevelsWritePrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Infof("info line")
	l.Warnf("warn line")
	l.Errorf("err line")

	out := buf.String()
	require.True(t, strings.Contains(out, "[Info] ") && strings.Contains(out, "info line"))
	require.True(t, strings.Contains(out, "[Warn] ") && strings.Contains(out, "warn line"))
	require.True(t, strings.Contains(out, "[Error] ") && strings.Contains(out, "err line"))
}
