package logx

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLimitedSuppressesBursts(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewLimited(NewWriter(&buf, "debug"), time.Hour, 1)
	for i := 0; i < 5; i++ {
		l.Warn("slow command")
	}
	if got := strings.Count(buf.String(), "slow command"); got != 1 {
		t.Fatalf("logged %d times, want 1", got)
	}
	if l.Suppressed() != 4 {
		t.Fatalf("Suppressed = %d, want 4", l.Suppressed())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"nope":    LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	t.Parallel()
	l := Nop().With(String("comp", "queue"))
	if l.IsZero() {
		t.Fatalf("Nop should not be the zero logger")
	}
	l.Error("never shown")
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	zero.Info("safe on zero value")
}
