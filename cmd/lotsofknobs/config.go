package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the controller.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Key matrix scanning
	Matrix MatrixConfig `yaml:"matrix"`

	// Rotary encoder
	Encoder EncoderConfig `yaml:"encoder"`

	// MIDI output
	MIDI MIDIConfig `yaml:"midi"`

	// LED chain
	LEDs LEDConfig `yaml:"leds"`

	// Control loop timing
	Loop LoopConfig `yaml:"loop"`

	// Optional WebSocket state monitor
	Monitor MonitorConfig `yaml:"monitor"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type MatrixConfig struct {
	Chip       string   `yaml:"chip"`
	RowOffsets []uint32 `yaml:"row_offsets"`
	ColOffsets []uint32 `yaml:"col_offsets"`

	DebounceMS int `yaml:"debounce_ms"`
	SettleUS   int `yaml:"settle_us"`
}

type EncoderConfig struct {
	Chip      string `yaml:"chip"`
	ClkOffset uint32 `yaml:"clk_offset"`
	DtOffset  uint32 `yaml:"dt_offset"`

	Acceleration    bool `yaml:"acceleration"`
	AccelThreshMS   int  `yaml:"accel_threshold_ms"`
	AccelMultiplier int  `yaml:"accel_multiplier"`
}

type MIDIConfig struct {
	// PortName selects the output port by case-insensitive substring
	// match; empty means the first available port.
	PortName string `yaml:"port_name"`
	Channel  int    `yaml:"channel"`
	Velocity int    `yaml:"velocity"`
}

type LEDConfig struct {
	SPIDevice  string  `yaml:"spi_device"`
	Brightness float64 `yaml:"brightness"`
}

type LoopConfig struct {
	TickMS int `yaml:"tick_ms"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Matrix: MatrixConfig{
			Chip:       "/dev/gpiochip0",
			RowOffsets: append([]uint32(nil), defaultRowOffsets...),
			ColOffsets: append([]uint32(nil), defaultColOffsets...),
			DebounceMS: int(defaultDebounce / time.Millisecond),
			SettleUS:   int(defaultRowSettle / time.Microsecond),
		},
		Encoder: EncoderConfig{
			Chip:            "/dev/gpiochip0",
			ClkOffset:       defaultEncoderClkOffset,
			DtOffset:        defaultEncoderDtOffset,
			Acceleration:    true,
			AccelThreshMS:   int(defaultAccelThreshold / time.Millisecond),
			AccelMultiplier: defaultAccelMultiplier,
		},
		MIDI: MIDIConfig{
			PortName: "",
			Channel:  defaultMIDIChannel,
			Velocity: defaultNoteVelocity,
		},
		LEDs: LEDConfig{
			SPIDevice:  "/dev/spidev0.0",
			Brightness: defaultBrightness,
		},
		Loop: LoopConfig{
			TickMS: int(defaultTickPeriod / time.Millisecond),
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Listen:  "127.0.0.1:3002",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true),
// and trailing documents are an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
// Flags pass pointers; a nil pointer means "not set, leave the config
// value alone".
type FlagOverrides struct {
	MatrixChip  *string
	EncoderChip *string

	MIDIPortName *string
	MIDIChannel  *int
	MIDIVelocity *int

	LEDBrightness *float64

	LoopTickMS *int

	MonitorEnabled *bool
	MonitorListen  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. Non-nil pointers are applied even
// when they carry a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MatrixChip != nil {
		cfg.Matrix.Chip = *o.MatrixChip
	}
	if o.EncoderChip != nil {
		cfg.Encoder.Chip = *o.EncoderChip
	}

	if o.MIDIPortName != nil {
		cfg.MIDI.PortName = *o.MIDIPortName
	}
	if o.MIDIChannel != nil {
		cfg.MIDI.Channel = *o.MIDIChannel
	}
	if o.MIDIVelocity != nil {
		cfg.MIDI.Velocity = *o.MIDIVelocity
	}

	if o.LEDBrightness != nil {
		cfg.LEDs.Brightness = *o.LEDBrightness
	}

	if o.LoopTickMS != nil {
		cfg.Loop.TickMS = *o.LoopTickMS
	}

	if o.MonitorEnabled != nil {
		cfg.Monitor.Enabled = *o.MonitorEnabled
	}
	if o.MonitorListen != nil {
		cfg.Monitor.Listen = *o.MonitorListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Matrix
	if c.Matrix.Chip == "" {
		return errors.New("matrix.chip must not be empty")
	}
	if len(c.Matrix.RowOffsets) != numRows {
		return fmt.Errorf("matrix.row_offsets must list exactly %d lines", numRows)
	}
	if len(c.Matrix.ColOffsets) != numCols {
		return fmt.Errorf("matrix.col_offsets must list exactly %d lines", numCols)
	}
	if c.Matrix.DebounceMS < 0 {
		return errors.New("matrix.debounce_ms must be >= 0")
	}
	if c.Matrix.SettleUS < 0 {
		return errors.New("matrix.settle_us must be >= 0")
	}

	// Encoder
	if c.Encoder.Chip == "" {
		return errors.New("encoder.chip must not be empty")
	}
	if c.Encoder.ClkOffset == c.Encoder.DtOffset {
		return errors.New("encoder.clk_offset and encoder.dt_offset must differ")
	}
	if c.Encoder.AccelThreshMS < 0 {
		return errors.New("encoder.accel_threshold_ms must be >= 0")
	}
	if c.Encoder.AccelMultiplier < 1 {
		return errors.New("encoder.accel_multiplier must be >= 1")
	}

	// MIDI
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		return errors.New("midi.channel must be between 1 and 16")
	}
	if c.MIDI.Velocity < 0 || c.MIDI.Velocity > 127 {
		return errors.New("midi.velocity must be between 0 and 127")
	}

	// LEDs
	if c.LEDs.SPIDevice == "" {
		return errors.New("leds.spi_device must not be empty")
	}
	if c.LEDs.Brightness < 0 || c.LEDs.Brightness > 1 {
		return errors.New("leds.brightness must be between 0 and 1")
	}

	// Loop
	if c.Loop.TickMS <= 0 || c.Loop.TickMS > 1000 {
		return errors.New("loop.tick_ms must be between 1 and 1000")
	}

	// Monitor
	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		return errors.New("monitor.enabled is true but monitor.listen is empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
