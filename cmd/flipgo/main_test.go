package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/cjeanneret/FlipGo/internal/config"
	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
	"github.com/cjeanneret/FlipGo/internal/hw/sim"
	"github.com/cjeanneret/FlipGo/internal/logic/clock"
	"github.com/cjeanneret/FlipGo/internal/logic/dial"
	"github.com/cjeanneret/FlipGo/internal/logic/mode"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

func loadMockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("../../configs/mock.yaml")
	if err != nil {
		t.Fatalf("Load mock.yaml: %v", err)
	}
	return cfg
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- wiring ----------

func TestSimSpecs_FollowDialConfig(t *testing.T) {
	cfg := loadMockConfig(t)
	specs := simSpecs(cfg)
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	want := sim.DialSpec{
		ServoPin:    13,
		HomePin:     16,
		StepPin:     26,
		StopPulse:   1500 * time.Microsecond,
		StepsPerRev: 48,
		StartStep:   simHourStart,
	}
	if diff := cmp.Diff(want, specs[1]); diff != "" {
		t.Errorf("hour spec mismatch (-want +got):\n%s", diff)
	}
	if specs[0].StepsPerRev != 60 {
		t.Errorf("minute StepsPerRev = %d, want 60", specs[0].StepsPerRev)
	}
}

func TestDialConfig(t *testing.T) {
	cfg := loadMockConfig(t)
	got := dialConfig(cfg, "hour", 24, cfg.HourDial)
	want := dial.Config{
		Name:         "hour",
		Modulus:      24,
		StepsPerUnit: 2,
		PollInterval: time.Millisecond,
		Debounce:     2 * time.Millisecond,
		HomeTimeout:  cfg.HomeTimeout(),
		StepTimeout:  cfg.StepTimeout(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dial config mismatch (-want +got):\n%s", diff)
	}
}

func TestNewButtons_OnlyFitted(t *testing.T) {
	cfg := loadMockConfig(t)
	cfg.Buttons.SavePin = 0
	cfg.Buttons.CancelPin = 0

	buttons, err := newButtons(cfg, &gpio.MockDriver{})
	if err != nil {
		t.Fatalf("newButtons: %v", err)
	}
	for _, b := range []mode.Button{mode.Mode, mode.Hour, mode.Minute} {
		if _, ok := buttons[b]; !ok {
			t.Errorf("button %s missing", b)
		}
	}
	for _, b := range []mode.Button{mode.Save, mode.Cancel} {
		if _, ok := buttons[b]; ok {
			t.Errorf("button %s wired with pin 0", b)
		}
	}
}

func TestNewTimeSource_System(t *testing.T) {
	cfg := loadMockConfig(t)
	src, err := newTimeSource(context.Background(), cfg, newBusPool())
	if err != nil {
		t.Fatalf("newTimeSource: %v", err)
	}
	if _, ok := src.(*timesource.System); !ok {
		t.Fatalf("source is %T, want *timesource.System", src)
	}
	if _, err := src.Now(context.Background()); err != nil {
		t.Errorf("Now: %v", err)
	}
}

func TestNewTimeSource_RTCBusError(t *testing.T) {
	cfg := loadMockConfig(t)
	cfg.TimeSource.Type = config.SourceRTC
	boom := errors.New("no i2c")
	buses := &busPool{
		open:  func(string) (i2c.BusCloser, error) { return nil, boom },
		buses: make(map[string]i2c.BusCloser),
	}
	if _, err := newTimeSource(context.Background(), cfg, buses); !errors.Is(err, boom) {
		t.Errorf("err = %v, want bus error", err)
	}
}

func TestNewTimeSource_NTPCancelled(t *testing.T) {
	cfg := loadMockConfig(t)
	cfg.TimeSource.Type = config.SourceNTP
	cfg.TimeSource.NTPServer = "127.0.0.1"
	cfg.TimeSource.NTPTimeoutMs = 10
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTimeSource(ctx, cfg, newBusPool()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBusPool_OpensOnce(t *testing.T) {
	opened := 0
	buses := &busPool{
		open: func(name string) (i2c.BusCloser, error) {
			opened++
			return &i2ctest.Playback{DontPanic: true}, nil
		},
		buses: make(map[string]i2c.BusCloser),
	}
	a, err := buses.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := buses.Get("1")
	if a != b || opened != 1 {
		t.Errorf("bus opened %d times, want once", opened)
	}
	buses.Get("2")
	if opened != 2 {
		t.Errorf("second bus not opened, opened=%d", opened)
	}
	buses.Close()
}

func TestMockClock_HomesOnSimulatedMechanism(t *testing.T) {
	cfg := loadMockConfig(t)
	g, err := newGPIODriver(cfg)
	if err != nil {
		t.Fatalf("newGPIODriver: %v", err)
	}
	mech, ok := g.(*sim.Mechanism)
	if !ok {
		t.Fatalf("driver is %T, want *sim.Mechanism", g)
	}

	ctrl, err := newMotion(cfg, g, newBusPool())
	if err != nil {
		t.Fatalf("newMotion: %v", err)
	}
	buttons, err := newButtons(cfg, g)
	if err != nil {
		t.Fatalf("newButtons: %v", err)
	}
	src := timesource.NewSystem(time.UTC)
	if err := src.Set(context.Background(), timesource.Time{Hour: 0, Minute: 3}); err != nil {
		t.Fatal(err)
	}
	runner := clock.NewRunner(clock.Config{
		PollInterval: cfg.PollInterval(),
		SyncInterval: cfg.SyncInterval(),
		Cooldown:     cfg.Cooldown(),
	}, ctrl, src, buttons)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	deadline := time.Now().Add(20 * time.Second)
	for !runner.Status().Homed {
		if time.Now().After(deadline) {
			t.Fatalf("dials not homed; status %+v", runner.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	for runner.Status().LastSync.IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("dials never synced; status %+v", runner.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	s := runner.Status()
	if s.Hour != 0 || (s.Minute != 3 && s.Minute != 4) {
		t.Errorf("dials show %02d:%02d, want 00:03", s.Hour, s.Minute)
	}
	if got := mech.Step(cfg.HourDial.ServoPin); got != 0 {
		t.Errorf("hour mechanism at step %d, want 0", got)
	}
}

// ---------- run ----------

// writeConfig copies the mock profile into a temporary configs directory,
// applying old/new text replacements, and returns the file path.
func writeConfig(t *testing.T, replace ...string) string {
	t.Helper()
	base, err := os.ReadFile("../../configs/mock.yaml")
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.yaml")
	data := strings.NewReplacer(replace...).Replace(string(base))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_InvalidConfigPath(t *testing.T) {
	if err := run(context.Background(), "settings.json", 0, 0); err == nil {
		t.Error("run accepted a config outside configs/")
	}
}

func TestRun_InvalidDebugLevel(t *testing.T) {
	if err := run(context.Background(), writeConfig(t), 7, 0); err == nil {
		t.Error("run accepted -debug 7")
	}
}

func TestRun_ClockFailureReturnsError(t *testing.T) {
	// The simulated dials start away from home and cannot reach it in 1ms.
	path := writeConfig(t, "  debounce_ms: 2\n", "  debounce_ms: 2\n  home_timeout_ms: 1\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Switches.HomeTimeoutMs != 1 {
		t.Fatalf("home_timeout_ms = %d, want 1", cfg.Switches.HomeTimeoutMs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = run(ctx, path, 0, 0)
	if !errors.Is(err, dial.ErrTimeout) {
		t.Errorf("run = %v, want ErrTimeout", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	path := writeConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path, 0, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
