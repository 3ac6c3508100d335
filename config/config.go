// Package config loads host-side settings for the drive tools from JSON
// or YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gofoc/core"
	"gofoc/sim"
)

var ErrUnknownFormat = errors.New("unknown config format")

// Duration is a time.Duration written as "250ms" in either format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the complete host configuration.
type Config struct {
	Drive core.Config      `json:"drive" yaml:"drive"`
	Motor sim.MotorParams  `json:"motor" yaml:"motor"`
	Sim   SimConfig        `json:"sim" yaml:"sim"`
	Store core.StoreConfig `json:"store" yaml:"store"`
	Link  LinkConfig       `json:"link" yaml:"link"`
	MQTT  MQTTConfig       `json:"mqtt" yaml:"mqtt"`
	CAN   CANConfig        `json:"can" yaml:"can"`
	Log   LogConfig        `json:"log" yaml:"log"`
}

// SimConfig places the simulated motor on its rig.
type SimConfig struct {
	BusVoltage      float64  `json:"bus_voltage" yaml:"bus_voltage"`
	BusPollRate     float32  `json:"bus_poll_rate" yaml:"bus_poll_rate"`
	EncoderOffset   float64  `json:"encoder_offset" yaml:"encoder_offset"`
	EncoderInverted bool     `json:"encoder_inverted" yaml:"encoder_inverted"`
	SettleTime      Duration `json:"settle_time" yaml:"settle_time"`
	RunTime         Duration `json:"run_time" yaml:"run_time"`
	SampleEvery     Duration `json:"sample_every" yaml:"sample_every"`
	FlashPageSize   uint32   `json:"flash_page_size" yaml:"flash_page_size"`
	FlashPages      uint32   `json:"flash_pages" yaml:"flash_pages"`
}

// LinkConfig is the serial connection to the drive.
type LinkConfig struct {
	Port    string   `json:"port" yaml:"port"`
	Baud    int      `json:"baud" yaml:"baud"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
	Poll    Duration `json:"poll" yaml:"poll"` // status poll interval for bridges
}

// MQTTConfig enables the telemetry bridge when Broker is set.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"` // prefix, e.g. "foc/axis0"
	QoS      byte   `json:"qos" yaml:"qos"`
}

// CANConfig enables the CAN bridge when Interface is set.
type CANConfig struct {
	Interface string `json:"interface" yaml:"interface"`
	NodeID    uint8  `json:"node_id" yaml:"node_id"`
}

// LogConfig selects the host log output.
type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() *Config {
	rig := sim.DefaultRigConfig()
	rig.Motor.PolePairs = 0 // follows drive.pole_pairs
	return &Config{
		Drive: core.DefaultConfig(),
		Motor: rig.Motor,
		Sim: SimConfig{
			BusVoltage:    rig.BusVoltage,
			BusPollRate:   rig.BusPollRate,
			SettleTime:    Duration(rig.SettleTime),
			RunTime:       Duration(time.Second),
			SampleEvery:   Duration(10 * time.Millisecond),
			FlashPageSize: rig.FlashPageSize,
			FlashPages:    rig.FlashPages,
		},
		Store: rig.Store,
		Link: LinkConfig{
			Port:    "/dev/ttyACM0",
			Baud:    250000,
			Timeout: Duration(time.Second),
			Poll:    Duration(100 * time.Millisecond),
		},
		MQTT: MQTTConfig{
			ClientID: "foc-host",
			Topic:    "foc",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads a config file; the format follows the file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data as "json" or "yaml" over the defaults and validates
// the result.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(format) {
	case "json":
		err = json.Unmarshal(data, cfg)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in values a file set to zero explicitly
func applyDefaults(cfg *Config) {
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = 250000
	}
	if cfg.Link.Timeout == 0 {
		cfg.Link.Timeout = Duration(time.Second)
	}
	if cfg.Link.Poll == 0 {
		cfg.Link.Poll = Duration(100 * time.Millisecond)
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "foc"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "foc-host"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// filter sample periods follow the loop rates unless given
	if cfg.Drive.CurrentFilter.SamplePeriod == 0 && cfg.Drive.SampleRate > 0 {
		cfg.Drive.CurrentFilter.SamplePeriod = 1 / cfg.Drive.SampleRate
	}
	if cfg.Drive.SpeedFilter.SamplePeriod == 0 && cfg.Drive.ControlRate > 0 {
		cfg.Drive.SpeedFilter.SamplePeriod = 1 / cfg.Drive.ControlRate
	}

	if cfg.Motor.PolePairs == 0 {
		cfg.Motor.PolePairs = cfg.Drive.PolePairs
	}
	if cfg.Sim.SampleEvery == 0 {
		cfg.Sim.SampleEvery = Duration(10 * time.Millisecond)
	}
}

// Validate checks the drive parameters and the sections the tools need.
func (c *Config) Validate() error {
	if err := c.Drive.Validate(); err != nil {
		return fmt.Errorf("drive: %w", err)
	}
	if c.Link.Baud < 0 {
		return fmt.Errorf("link: baud %d", c.Link.Baud)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d", c.MQTT.QoS)
	}
	if c.Motor.PolePairs != c.Drive.PolePairs {
		return fmt.Errorf("motor: %d pole pairs, drive configured for %d", c.Motor.PolePairs, c.Drive.PolePairs)
	}
	if !(c.Motor.Resistance > 0) || !(c.Motor.Inductance > 0) || !(c.Motor.Inertia > 0) {
		return errors.New("motor: resistance, inductance and inertia must be positive")
	}
	return nil
}

// RigConfig assembles the simulation rig settings.
func (c *Config) RigConfig() sim.RigConfig {
	return sim.RigConfig{
		Motor:           c.Motor,
		BusVoltage:      c.Sim.BusVoltage,
		BusPollRate:     c.Sim.BusPollRate,
		EncoderOffset:   c.Sim.EncoderOffset,
		EncoderInverted: c.Sim.EncoderInverted,
		SettleTime:      time.Duration(c.Sim.SettleTime),
		FlashPageSize:   c.Sim.FlashPageSize,
		FlashPages:      c.Sim.FlashPages,
		Store:           c.Store,
	}
}
