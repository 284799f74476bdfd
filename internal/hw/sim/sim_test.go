package sim

import (
	"testing"
	"time"

	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
)

const stop = 1500 * time.Microsecond

func newTestMechanism(t *testing.T, start int) *Mechanism {
	t.Helper()
	m, err := New(4, DialSpec{ServoPin: 18, HomePin: 5, StepPin: 6, StopPulse: stop, StepsPerRev: 3, StartStep: start})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func read(t *testing.T, m *Mechanism, pin int) gpio.Level {
	t.Helper()
	l, err := m.ReadPin(pin)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	return l
}

func TestMechanism_StoppedDialDoesNotMove(t *testing.T) {
	m := newTestMechanism(t, 1)
	for i := 0; i < 10; i++ {
		read(t, m, 6)
	}
	if got := m.Step(18); got != 1 {
		t.Errorf("Step = %d, want 1 (servo never ran)", got)
	}
}

func TestMechanism_StepSwitchPattern(t *testing.T) {
	m := newTestMechanism(t, 1)
	_ = m.WritePulse(18, stop+100*time.Microsecond)
	if !m.Running(18) {
		t.Fatal("servo should be running after a non-stop pulse")
	}

	// 4 ticks per step: pressed, pressed, released, released.
	want := []gpio.Level{gpio.Low, gpio.Low, gpio.High, gpio.High, gpio.Low}
	for i, w := range want {
		if got := read(t, m, 6); got != w {
			t.Errorf("read %d = %v, want %v", i, got, w)
		}
	}
	if got := m.Step(18); got != 2 {
		t.Errorf("Step = %d, want 2 after 5 ticks from step 1", got)
	}

	_ = m.WritePulse(18, stop)
	if m.Running(18) {
		t.Error("servo should stop on the stop pulse")
	}
}

func TestMechanism_HomeSwitchOnSecondHalfOfStepZero(t *testing.T) {
	m := newTestMechanism(t, 0)
	_ = m.WritePulse(18, stop+100*time.Microsecond)

	want := []gpio.Level{gpio.High, gpio.High, gpio.Low, gpio.Low, gpio.High}
	for i, w := range want {
		if got := read(t, m, 5); got != w {
			t.Errorf("home read %d = %v, want %v", i, got, w)
		}
	}
}

func TestMechanism_WrapsAroundRevolution(t *testing.T) {
	m := newTestMechanism(t, 2)
	_ = m.WritePulse(18, stop+100*time.Microsecond)
	for i := 0; i < 4; i++ {
		read(t, m, 6)
	}
	if got := m.Step(18); got != 0 {
		t.Errorf("Step = %d, want 0 after wrapping", got)
	}
}

func TestMechanism_OtherPinsUseInputs(t *testing.T) {
	m := newTestMechanism(t, 0)
	if got := read(t, m, 17); got != gpio.High {
		t.Errorf("unset button = %v, want High", got)
	}
	m.SetInput(17, gpio.Low)
	if got := read(t, m, 17); got != gpio.Low {
		t.Errorf("button after SetInput = %v, want Low", got)
	}
	if got := m.Step(99); got != -1 {
		t.Errorf("Step on unknown servo = %d, want -1", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(4, DialSpec{ServoPin: 18}); err == nil {
		t.Error("expected error for zero steps per rev")
	}
	spec := DialSpec{ServoPin: 18, StepsPerRev: 60}
	if _, err := New(4, spec, spec); err == nil {
		t.Error("expected error for duplicate servo pin")
	}
}
