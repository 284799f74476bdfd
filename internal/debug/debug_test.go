package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func capture(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestInit_OffPrintsNothing(t *testing.T) {
	buf := capture(t, LevelOff)
	Info("hello %d", 1)
	Error(errors.New("boom"))
	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestLevels_Filtering(t *testing.T) {
	buf := capture(t, LevelLive)

	Info("info line")
	Dial("minute", 12, 60)
	Verbose("verbose line")
	GPIO("ReadPin", 5, nil)

	out := buf.String()
	if !strings.Contains(out, "[INFO] info line") {
		t.Errorf("missing info line in %q", out)
	}
	if !strings.Contains(out, "Dial minute: position 12/60") {
		t.Errorf("missing dial line in %q", out)
	}
	if strings.Contains(out, "verbose line") {
		t.Errorf("verbose line should be filtered at level 2: %q", out)
	}
	if strings.Contains(out, "[GPIO]") {
		t.Errorf("gpio line should be filtered at level 2: %q", out)
	}
}

func TestSetOutput_AfterInit(t *testing.T) {
	capture(t, LevelInfo)
	var second bytes.Buffer
	SetOutput(&second)

	Info("redirected")
	if !strings.Contains(second.String(), "redirected") {
		t.Errorf("expected output on new writer, got %q", second.String())
	}
}

func TestPrefix(t *testing.T) {
	buf := capture(t, LevelInfo)
	Info("x")
	if !strings.HasPrefix(buf.String(), prefix) {
		t.Errorf("output %q should start with %q", buf.String(), prefix)
	}
}

func TestIsEnabled(t *testing.T) {
	capture(t, LevelVerbose)
	if !IsEnabled(LevelInfo) || !IsEnabled(LevelVerbose) {
		t.Error("levels 1 and 3 should be enabled at level 3")
	}
	if IsEnabled(LevelTrace) {
		t.Error("trace should not be enabled at level 3")
	}
}

func TestFmt(t *testing.T) {
	capture(t, LevelOff)
	if got := Fmt("%d", 3); got != "" {
		t.Errorf("Fmt at level 0 = %q, want empty", got)
	}
	capture(t, LevelInfo)
	if got := Fmt("%d", 3); got != "3" {
		t.Errorf("Fmt at level 1 = %q, want \"3\"", got)
	}
}
