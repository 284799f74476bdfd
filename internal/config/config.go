package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Time source types.
const (
	SourceNTP    = "ntp"
	SourceRTC    = "rtc"
	SourceSystem = "system"
)

// MaxConfigFileBytes bounds the config file size read by Load.
const MaxConfigFileBytes = 64 * 1024

// Switch wiring.
const (
	SwitchesGPIO     = "gpio"
	SwitchesExpander = "expander"
)

// DialConfig holds the wiring and tuning of one dial.
type DialConfig struct {
	ServoPin      int `yaml:"servo_pin"`       // BCM pin with hardware PWM (12, 13, 18, 19)
	HomePin       int `yaml:"home_pin"`        // BCM pin, or expander line 0-7
	StepPin       int `yaml:"step_pin"`        // BCM pin, or expander line 0-7
	StopPulseUs   int `yaml:"stop_pulse_us"`   // pulse width that holds the servo still
	SpeedOffsetUs int `yaml:"speed_offset_us"` // signed offset from stop while running (sign = direction)
	StepsPerUnit  int `yaml:"steps_per_unit"`  // physical steps per displayed unit (hour dial: 2)
}

// SwitchesConfig describes how the home/step switches are read and how
// long the dial waits for them.
type SwitchesConfig struct {
	Source          string `yaml:"source"`           // "gpio" or "expander"
	I2CBus          string `yaml:"i2c_bus"`          // periph bus name, "" = default
	ExpanderAddress int    `yaml:"expander_address"` // PCF8574 address, default 0x20
	PollIntervalMs  int    `yaml:"poll_interval_ms"` // switch sampling period
	DebounceMs      int    `yaml:"debounce_ms"`      // a level must hold this long to count
	HomeTimeoutMs   int    `yaml:"home_timeout_ms"`  // max time to find the home switch
	StepTimeoutMs   int    `yaml:"step_timeout_ms"`  // max time for one physical step
}

// ButtonsConfig holds the time-setting buttons (BCM pins, 0 = not fitted).
type ButtonsConfig struct {
	ModePin    int `yaml:"mode_pin"`
	HourPin    int `yaml:"hour_pin"`
	MinutePin  int `yaml:"minute_pin"`
	SavePin    int `yaml:"save_pin"`
	CancelPin  int `yaml:"cancel_pin"`
	CooldownMs int `yaml:"cooldown_ms"` // shared by all buttons
}

// TimeSourceConfig selects where the time comes from.
type TimeSourceConfig struct {
	Type         string `yaml:"type"`     // "ntp", "rtc" or "system"
	Timezone     string `yaml:"timezone"` // IANA name, "" = host local time
	NTPServer    string `yaml:"ntp_server"`
	NTPTimeoutMs int    `yaml:"ntp_timeout_ms"`
	NTPRefreshS  int    `yaml:"ntp_refresh_s"` // how long a measured offset is trusted
	NTPRetryMs   int    `yaml:"ntp_retry_ms"`  // pause between failed queries at startup
	I2CBus       string `yaml:"i2c_bus"`
	RTCAddress   int    `yaml:"rtc_address"` // DS3231, default 0x68
}

// ConsoleConfig optionally mirrors the log to a serial port.
type ConsoleConfig struct {
	SerialPort string `yaml:"serial_port"` // e.g. /dev/ttyAMA0, "" = disabled
	Baud       int    `yaml:"baud"`
}

// WebConfig protects the mutating web routes.
type WebConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, "" = no authentication
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	SyncIntervalMs int  `yaml:"sync_interval_ms"` // how often the dials are reconciled
	PWMFrequencyHz int  `yaml:"pwm_frequency_hz"` // servo PWM period frequency
	DebugLevel     int  `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO       bool `yaml:"mock_gpio"`        // simulate the mechanism (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	MinuteDial DialConfig       `yaml:"minute_dial"`
	HourDial   DialConfig       `yaml:"hour_dial"`
	Switches   SwitchesConfig   `yaml:"switches"`
	Buttons    ButtonsConfig    `yaml:"buttons"`
	TimeSource TimeSourceConfig `yaml:"time_source"`
	Console    ConsoleConfig    `yaml:"console"`
	Web        WebConfig        `yaml:"web"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files inside a directory named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	clean := filepath.Clean(path)
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	applyDialDefaults(&c.MinuteDial, 1)
	applyDialDefaults(&c.HourDial, 2) // hour gearing needs two steps per hour

	if c.Switches.Source == "" {
		c.Switches.Source = SwitchesGPIO
	}
	if c.Switches.ExpanderAddress == 0 {
		c.Switches.ExpanderAddress = 0x20
	}
	if c.Switches.PollIntervalMs <= 0 {
		c.Switches.PollIntervalMs = 5
	}
	if c.Switches.DebounceMs <= 0 {
		c.Switches.DebounceMs = 20
	}
	if c.Switches.HomeTimeoutMs <= 0 {
		c.Switches.HomeTimeoutMs = 120000 // a full dial turn at the slowest speed
	}
	if c.Switches.StepTimeoutMs <= 0 {
		c.Switches.StepTimeoutMs = 15000
	}

	if c.Buttons.CooldownMs <= 0 {
		c.Buttons.CooldownMs = 300
	}

	if c.TimeSource.Type == "" {
		c.TimeSource.Type = SourceNTP
	}
	if c.TimeSource.NTPServer == "" {
		c.TimeSource.NTPServer = "pool.ntp.org"
	}
	if c.TimeSource.NTPTimeoutMs <= 0 {
		c.TimeSource.NTPTimeoutMs = 5000
	}
	if c.TimeSource.NTPRefreshS <= 0 {
		c.TimeSource.NTPRefreshS = 3600
	}
	if c.TimeSource.NTPRetryMs <= 0 {
		c.TimeSource.NTPRetryMs = 5000
	}
	if c.TimeSource.RTCAddress == 0 {
		c.TimeSource.RTCAddress = 0x68
	}

	if c.Console.Baud <= 0 {
		c.Console.Baud = 115200
	}
	if c.Web.Username == "" {
		c.Web.Username = "admin"
	}

	if c.Defaults.SyncIntervalMs <= 0 {
		c.Defaults.SyncIntervalMs = 1000
	}
	if c.Defaults.PWMFrequencyHz <= 0 {
		c.Defaults.PWMFrequencyHz = 50
	}
}

func applyDialDefaults(d *DialConfig, stepsPerUnit int) {
	if d.StopPulseUs <= 0 {
		d.StopPulseUs = 1500
	}
	if d.SpeedOffsetUs == 0 {
		d.SpeedOffsetUs = 100
	}
	if d.StepsPerUnit <= 0 {
		d.StepsPerUnit = stepsPerUnit
	}
}

func (c *Config) validate() error {
	switch c.TimeSource.Type {
	case SourceNTP, SourceRTC, SourceSystem:
	default:
		return fmt.Errorf("time_source.type must be ntp, rtc or system, got %q", c.TimeSource.Type)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Switches.Source {
	case SwitchesGPIO, SwitchesExpander:
	default:
		return fmt.Errorf("switches.source must be gpio or expander, got %q", c.Switches.Source)
	}

	for _, d := range []struct {
		name string
		cfg  DialConfig
	}{{"minute_dial", c.MinuteDial}, {"hour_dial", c.HourDial}} {
		if d.cfg.ServoPin <= 0 {
			return fmt.Errorf("%s.servo_pin is required", d.name)
		}
		if c.Switches.Source == SwitchesExpander {
			if d.cfg.HomePin < 0 || d.cfg.HomePin > 7 || d.cfg.StepPin < 0 || d.cfg.StepPin > 7 {
				return fmt.Errorf("%s: expander lines must be 0-7, got home=%d step=%d", d.name, d.cfg.HomePin, d.cfg.StepPin)
			}
		} else if d.cfg.HomePin <= 0 || d.cfg.StepPin <= 0 {
			return fmt.Errorf("%s.home_pin and %s.step_pin are required", d.name, d.name)
		}
		if d.cfg.StopPulseUs+d.cfg.SpeedOffsetUs <= 0 {
			return fmt.Errorf("%s: speed_offset_us %d makes the run pulse negative", d.name, d.cfg.SpeedOffsetUs)
		}
	}

	return c.checkPinConflicts()
}

// checkPinConflicts rejects a BCM pin used twice.
func (c *Config) checkPinConflicts() error {
	used := make(map[int]string)
	claim := func(pin int, name string) error {
		if pin <= 0 {
			return nil
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("pin %d used by both %s and %s", pin, other, name)
		}
		used[pin] = name
		return nil
	}

	pins := []struct {
		pin  int
		name string
	}{
		{c.MinuteDial.ServoPin, "minute_dial.servo_pin"},
		{c.HourDial.ServoPin, "hour_dial.servo_pin"},
		{c.Buttons.ModePin, "buttons.mode_pin"},
		{c.Buttons.HourPin, "buttons.hour_pin"},
		{c.Buttons.MinutePin, "buttons.minute_pin"},
		{c.Buttons.SavePin, "buttons.save_pin"},
		{c.Buttons.CancelPin, "buttons.cancel_pin"},
	}
	if c.Switches.Source == SwitchesGPIO {
		pins = append(pins, []struct {
			pin  int
			name string
		}{
			{c.MinuteDial.HomePin, "minute_dial.home_pin"},
			{c.MinuteDial.StepPin, "minute_dial.step_pin"},
			{c.HourDial.HomePin, "hour_dial.home_pin"},
			{c.HourDial.StepPin, "hour_dial.step_pin"},
		}...)
	}
	for _, p := range pins {
		if err := claim(p.pin, p.name); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeSource.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeSource.Timezone)
	if err != nil {
		return nil, fmt.Errorf("time_source.timezone: %w", err)
	}
	return loc, nil
}

// HasButtons reports whether manual time setting is possible.
func (c *Config) HasButtons() bool {
	return c.Buttons.ModePin > 0
}

// StopPulse returns the servo stop pulse width of a dial.
func (d DialConfig) StopPulse() time.Duration {
	return time.Duration(d.StopPulseUs) * time.Microsecond
}

// SpeedOffset returns the signed run offset of a dial.
func (d DialConfig) SpeedOffset() time.Duration {
	return time.Duration(d.SpeedOffsetUs) * time.Microsecond
}

// PollInterval returns the switch sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Switches.PollIntervalMs) * time.Millisecond
}

// Debounce returns how long a switch level must hold.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Switches.DebounceMs) * time.Millisecond
}

// HomeTimeout returns the limit for finding the home switch.
func (c *Config) HomeTimeout() time.Duration {
	return time.Duration(c.Switches.HomeTimeoutMs) * time.Millisecond
}

// StepTimeout returns the limit for one physical step.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Switches.StepTimeoutMs) * time.Millisecond
}

// Cooldown returns the shared button cooldown.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Buttons.CooldownMs) * time.Millisecond
}

// SyncInterval returns the period between dial reconciliations.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Defaults.SyncIntervalMs) * time.Millisecond
}

// NTPTimeout returns the per-query NTP timeout.
func (c *Config) NTPTimeout() time.Duration {
	return time.Duration(c.TimeSource.NTPTimeoutMs) * time.Millisecond
}

// NTPRefresh returns how long a measured NTP offset is trusted.
func (c *Config) NTPRefresh() time.Duration {
	return time.Duration(c.TimeSource.NTPRefreshS) * time.Second
}

// NTPRetry returns the pause between failed NTP queries.
func (c *Config) NTPRetry() time.Duration {
	return time.Duration(c.TimeSource.NTPRetryMs) * time.Millisecond
}
