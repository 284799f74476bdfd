package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"periph.io/x/conn/v3/i2c"

	"github.com/cjeanneret/FlipGo/internal/config"
	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/hw/console"
	"github.com/cjeanneret/FlipGo/internal/hw/expander"
	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
	"github.com/cjeanneret/FlipGo/internal/hw/i2cbus"
	"github.com/cjeanneret/FlipGo/internal/hw/rtc"
	"github.com/cjeanneret/FlipGo/internal/hw/servo"
	"github.com/cjeanneret/FlipGo/internal/hw/sim"
	"github.com/cjeanneret/FlipGo/internal/hw/switches"
	"github.com/cjeanneret/FlipGo/internal/logic/clock"
	"github.com/cjeanneret/FlipGo/internal/logic/dial"
	"github.com/cjeanneret/FlipGo/internal/logic/mode"
	"github.com/cjeanneret/FlipGo/internal/logic/motion"
	"github.com/cjeanneret/FlipGo/internal/timesource"
	"github.com/cjeanneret/FlipGo/internal/web"
)

// Dials start away from home in simulation so homing has work to do.
const (
	simMinuteStart = 17
	simHourStart   = 9
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4); -1 uses the config value")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, *cfgPath, *debugLevel, webPort.port())
	cancel()
	if err != nil {
		log.Printf("flipgo: %v", err)
		os.Exit(1)
	}
}

// run wires the clock and blocks until ctx is done or the clock fails.
// Every opened device is closed before it returns. httpPort 0 disables
// the web server.
func run(ctx context.Context, cfgPath string, debugLevel, httpPort int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(cfgPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if debugLevel > 4 {
		return fmt.Errorf("invalid -debug %d: must be 0-4", debugLevel)
	}
	if debugLevel >= 0 {
		cfg.Defaults.DebugLevel = debugLevel
	}

	// Log outputs: stdout, plus serial console and web stream when enabled
	outputs := []io.Writer{os.Stdout}
	if cfg.Console.SerialPort != "" {
		serialPort, err := console.Open(cfg.Console.SerialPort, cfg.Console.Baud)
		if err != nil {
			return fmt.Errorf("open serial console: %w", err)
		}
		defer serialPort.Close()
		outputs = append(outputs, serialPort)
	}
	var events *web.Hub
	if httpPort > 0 {
		events = web.NewHub()
		outputs = append(outputs, web.LogWriter(events))
	}
	debug.SetOutput(io.MultiWriter(outputs...))

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := newGPIODriver(cfg)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	buses := newBusPool()
	defer buses.Close()

	// Initialize dials
	debug.Step(2, "Initializing dials")
	debug.PrintStruct("Minute dial config", cfg.MinuteDial)
	debug.PrintStruct("Hour dial config", cfg.HourDial)
	ctrl, err := newMotion(cfg, gpioDriver, buses)
	if err != nil {
		return fmt.Errorf("init dials failed: %w", err)
	}

	// Initialize time source
	debug.Step(3, "Initializing time source")
	debug.Value("Time source", cfg.TimeSource.Type)
	source, err := newTimeSource(ctx, cfg, buses)
	if errors.Is(err, rtc.ErrNotFound) {
		return fmt.Errorf("RTC not found, check wiring: %w", err)
	}
	if err != nil {
		return fmt.Errorf("init time source failed: %w", err)
	}

	// Initialize buttons
	debug.Step(4, "Initializing buttons")
	buttons, err := newButtons(cfg, gpioDriver)
	if err != nil {
		return fmt.Errorf("init buttons failed: %w", err)
	}
	debug.Value("Buttons", len(buttons))
	if !cfg.HasButtons() {
		debug.Info("No mode button fitted, time can only be set through the web API")
	}

	runner := clock.NewRunner(clock.Config{
		PollInterval: cfg.PollInterval(),
		SyncInterval: cfg.SyncInterval(),
		Cooldown:     cfg.Cooldown(),
	}, ctrl, source, buttons)

	if events != nil {
		runner.OnStatus(events.PublishStatus)
		srv := web.NewServer(fmt.Sprintf(":%d", httpPort), events, runner, web.Auth{
			Username:     cfg.Web.Username,
			PasswordHash: cfg.Web.PasswordHash,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
				cancel()
			}
		}()
	}

	debug.Section("Running")
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("clock stopped: %w", err)
	}
	return nil
}

// newGPIODriver returns the Pi driver, or a simulated mechanism wired like
// the configured dials when mock_gpio is set.
func newGPIODriver(cfg *config.Config) (gpio.Driver, error) {
	if !cfg.Defaults.MockGPIO {
		return gpio.NewDriver(false)
	}
	return sim.New(sim.DefaultTicksPerStep, simSpecs(cfg)...)
}

func simSpecs(cfg *config.Config) []sim.DialSpec {
	return []sim.DialSpec{
		{
			ServoPin:    cfg.MinuteDial.ServoPin,
			HomePin:     cfg.MinuteDial.HomePin,
			StepPin:     cfg.MinuteDial.StepPin,
			StopPulse:   cfg.MinuteDial.StopPulse(),
			StepsPerRev: 60 * cfg.MinuteDial.StepsPerUnit,
			StartStep:   simMinuteStart,
		},
		{
			ServoPin:    cfg.HourDial.ServoPin,
			HomePin:     cfg.HourDial.HomePin,
			StepPin:     cfg.HourDial.StepPin,
			StopPulse:   cfg.HourDial.StopPulse(),
			StepsPerRev: 24 * cfg.HourDial.StepsPerUnit,
			StartStep:   simHourStart,
		},
	}
}

// newMotion builds both dials on their servos and switches.
func newMotion(cfg *config.Config, g gpio.Driver, buses *busPool) (*motion.Controller, error) {
	var exp *expander.PCF8574
	// The simulated mechanism answers on GPIO pins, whatever the wiring.
	if cfg.Switches.Source == config.SwitchesExpander && !cfg.Defaults.MockGPIO {
		bus, err := buses.Get(cfg.Switches.I2CBus)
		if err != nil {
			return nil, err
		}
		exp, err = expander.New(i2cbus.Traced{Bus: bus}, uint16(cfg.Switches.ExpanderAddress))
		if err != nil {
			return nil, err
		}
	}

	minute, err := newDial(cfg, g, exp, "minute", 60, cfg.MinuteDial)
	if err != nil {
		return nil, err
	}
	hour, err := newDial(cfg, g, exp, "hour", 24, cfg.HourDial)
	if err != nil {
		return nil, err
	}
	return motion.NewController(minute, hour), nil
}

func newDial(cfg *config.Config, g gpio.Driver, exp *expander.PCF8574, name string, modulus int, dc config.DialConfig) (*dial.Dial, error) {
	motor, err := servo.NewServo(g, servo.Config{
		Pin:         dc.ServoPin,
		FrequencyHz: cfg.Defaults.PWMFrequencyHz,
		StopPulse:   dc.StopPulse(),
		Offset:      dc.SpeedOffset(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s servo: %w", name, err)
	}

	home, err := newSwitch(g, exp, dc.HomePin)
	if err != nil {
		return nil, fmt.Errorf("%s home switch: %w", name, err)
	}
	step, err := newSwitch(g, exp, dc.StepPin)
	if err != nil {
		return nil, fmt.Errorf("%s step switch: %w", name, err)
	}

	return dial.New(dialConfig(cfg, name, modulus, dc), motor, home, step)
}

func dialConfig(cfg *config.Config, name string, modulus int, dc config.DialConfig) dial.Config {
	return dial.Config{
		Name:         name,
		Modulus:      modulus,
		StepsPerUnit: dc.StepsPerUnit,
		PollInterval: cfg.PollInterval(),
		Debounce:     cfg.Debounce(),
		HomeTimeout:  cfg.HomeTimeout(),
		StepTimeout:  cfg.StepTimeout(),
	}
}

// newSwitch reads pin from the expander when there is one, else from GPIO.
func newSwitch(g gpio.Driver, exp *expander.PCF8574, pin int) (switches.Input, error) {
	if exp != nil {
		return exp.Pin(pin)
	}
	return switches.NewGPIOInput(g, pin)
}

// newButtons returns the fitted buttons; a pin of 0 means not fitted.
func newButtons(cfg *config.Config, g gpio.Driver) (map[mode.Button]switches.Input, error) {
	buttons := make(map[mode.Button]switches.Input)
	for _, b := range []struct {
		id  mode.Button
		pin int
	}{
		{mode.Mode, cfg.Buttons.ModePin},
		{mode.Hour, cfg.Buttons.HourPin},
		{mode.Minute, cfg.Buttons.MinutePin},
		{mode.Save, cfg.Buttons.SavePin},
		{mode.Cancel, cfg.Buttons.CancelPin},
	} {
		if b.pin <= 0 {
			continue
		}
		in, err := switches.NewGPIOInput(g, b.pin)
		if err != nil {
			return nil, fmt.Errorf("button %s: %w", b.id, err)
		}
		buttons[b.id] = in
	}
	return buttons, nil
}

// newTimeSource selects the time source. NTP blocks until the first
// successful query or ctx is cancelled.
func newTimeSource(ctx context.Context, cfg *config.Config, buses *busPool) (timesource.Setter, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	debug.Value("Timezone", loc)

	switch cfg.TimeSource.Type {
	case config.SourceNTP:
		src := timesource.NewNTP(timesource.NTPConfig{
			Server:     cfg.TimeSource.NTPServer,
			Location:   loc,
			Timeout:    cfg.NTPTimeout(),
			Refresh:    cfg.NTPRefresh(),
			RetryDelay: cfg.NTPRetry(),
		})
		if err := src.Sync(ctx); err != nil {
			return nil, fmt.Errorf("ntp sync: %w", err)
		}
		return src, nil

	case config.SourceRTC:
		bus, err := buses.Get(cfg.TimeSource.I2CBus)
		if err != nil {
			return nil, err
		}
		return rtc.New(i2cbus.Traced{Bus: bus}, uint16(cfg.TimeSource.RTCAddress), loc)

	case config.SourceSystem:
		return timesource.NewSystem(loc), nil

	default:
		return nil, fmt.Errorf("unsupported time source type: %s", cfg.TimeSource.Type)
	}
}

// busPool opens each I2C bus once; the expander and the RTC may share one.
type busPool struct {
	open  func(name string) (i2c.BusCloser, error)
	buses map[string]i2c.BusCloser
}

func newBusPool() *busPool {
	return &busPool{open: i2cbus.Open, buses: make(map[string]i2c.BusCloser)}
}

func (p *busPool) Get(name string) (i2c.BusCloser, error) {
	if bus, ok := p.buses[name]; ok {
		return bus, nil
	}
	bus, err := p.open(name)
	if err != nil {
		return nil, err
	}
	p.buses[name] = bus
	return bus, nil
}

func (p *busPool) Close() {
	for name, bus := range p.buses {
		if err := bus.Close(); err != nil {
			log.Printf("closing i2c bus %q failed: %v", name, err)
		}
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
