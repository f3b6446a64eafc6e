// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/smart-thermostat/internal/autotune"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

type Config struct {
	Name            string           `yaml:"name"`
	UniqueID        string           `yaml:"unique_id"` // derived from name when empty
	Log             LogConfig        `yaml:"log"`
	MQTT            MQTTConfig       `yaml:"mqtt"`
	HTTP            HTTPConfig       `yaml:"http"`
	Database        DatabaseConfig   `yaml:"database"`
	Heartbeat       Duration         `yaml:"heartbeat"` // 0 disables
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"`
	Sensor          string           `yaml:"sensor"`         // MQTT topic of the room sensor
	OutdoorSensor   string           `yaml:"outdoor_sensor"` // optional
	Heater          DeviceConfig     `yaml:"heater"`
	Cooler          *DeviceConfig    `yaml:"cooler"`
	Thermostat      ThermostatConfig `yaml:"thermostat"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"` // messages kept while disconnected
	ValueKey    string `yaml:"value_key"`   // JSON field holding sensor values
}

type HTTPConfig struct {
	Addr     string `yaml:"addr"` // empty disables the status server
	ReadOnly bool   `yaml:"read_only"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Device types.
const (
	DeviceGPIO = "gpio"
	DeviceMQTT = "mqtt"
)

// DeviceConfig describes a heater or cooler output.
type DeviceConfig struct {
	Type   string `yaml:"type"`   // gpio or mqtt
	Invert bool   `yaml:"invert"` // reverse polarity

	Chip      string `yaml:"chip"`
	Pin       int    `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`

	Topic      string   `yaml:"topic"`
	StateTopic string   `yaml:"state_topic"`
	PayloadOn  string   `yaml:"payload_on"`
	PayloadOff string   `yaml:"payload_off"`
	Retain     bool     `yaml:"retain"`
	MinRefresh Duration `yaml:"min_refresh"` // minimum gap between identical commands
}

// ThermostatConfig holds the control parameters. Fields left out of the
// file keep the defaults from Defaults, so an explicit zero is honoured.
type ThermostatConfig struct {
	ACMode          bool               `yaml:"ac_mode"`
	ForceOffState   bool               `yaml:"force_off_state"`
	InitialHVACMode string             `yaml:"initial_hvac_mode"`
	TargetTemp      *float64           `yaml:"target_temp"`
	MinTemp         float64            `yaml:"min_temp"`
	MaxTemp         float64            `yaml:"max_temp"`
	Presets         map[string]float64 `yaml:"presets"`
	PresetSyncMode  string             `yaml:"preset_sync_mode"` // sync or none
	BoostPIDOff     bool               `yaml:"boost_pid_off"`

	Kp             float64  `yaml:"kp"`
	Ki             float64  `yaml:"ki"`
	Kd             float64  `yaml:"kd"`
	Ke             float64  `yaml:"ke"`
	ColdTolerance  float64  `yaml:"cold_tolerance"`
	HotTolerance   float64  `yaml:"hot_tolerance"`
	SamplingPeriod Duration `yaml:"sampling_period"` // 0 runs on every reading
	SensorStall    Duration `yaml:"sensor_stall"`    // 0 disables
	OutputSafety   float64  `yaml:"output_safety"`

	OutputPrecision int     `yaml:"output_precision"`
	OutputMin       float64 `yaml:"output_min"`
	OutputMax       float64 `yaml:"output_max"`
	OutClampLow     float64 `yaml:"out_clamp_low"`
	OutClampHigh    float64 `yaml:"out_clamp_high"`

	PWM                       Duration  `yaml:"pwm"` // 0 drives a continuous device
	KeepAlive                 Duration  `yaml:"keep_alive"`
	MinCycleDuration          Duration  `yaml:"min_cycle_duration"`
	MinOffCycleDuration       *Duration `yaml:"min_off_cycle_duration"`
	MinCycleDurationPIDOff    *Duration `yaml:"min_cycle_duration_pid_off"`
	MinOffCycleDurationPIDOff *Duration `yaml:"min_off_cycle_duration_pid_off"`

	Autotune  string   `yaml:"autotune"` // empty or "none" disables
	Noiseband float64  `yaml:"noiseband"`
	Lookback  Duration `yaml:"lookback"`
}

// Defaults returns the control parameters used for anything not configured.
func Defaults() ThermostatConfig {
	return ThermostatConfig{
		ForceOffState:   true,
		MinTemp:         7,
		MaxTemp:         35,
		PresetSyncMode:  "none",
		Kp:              100,
		ColdTolerance:   0.3,
		HotTolerance:    0.3,
		SensorStall:     Duration(6 * time.Hour),
		OutputSafety:    5,
		OutputPrecision: 1,
		OutputMin:       0,
		OutputMax:       100,
		OutClampLow:     0,
		OutClampHigh:    100,
		PWM:             Duration(15 * time.Minute),
		KeepAlive:       Duration(60 * time.Second),
		Noiseband:       0.5,
		Lookback:        Duration(2 * time.Hour),
	}
}

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(expandEnvVars(string(data))))
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Config{
		HTTP:       HTTPConfig{Addr: ":8080"},
		Heartbeat:  Duration(15 * time.Minute),
		Thermostat: Defaults(),
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		cfg.Name = "Thermostat"
	}
	if cfg.UniqueID == "" {
		cfg.UniqueID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(cfg.Name)).String()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "home/thermostat"
	}
	if cfg.MQTT.BufferSize == 0 {
		cfg.MQTT.BufferSize = 100
	}
	if cfg.MQTT.ValueKey == "" {
		cfg.MQTT.ValueKey = "temperature"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./thermostat.sqlite"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
	if cfg.Heater.Type == "" {
		cfg.Heater.Type = DeviceGPIO
	}
	if cfg.Cooler != nil && cfg.Cooler.Type == "" {
		cfg.Cooler.Type = DeviceGPIO
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Sensor == "" {
		return fmt.Errorf("sensor is required")
	}
	if c.OutdoorSensor == c.Sensor {
		return fmt.Errorf("outdoor_sensor must differ from sensor")
	}
	if c.MQTT.BufferSize < 0 {
		return fmt.Errorf("mqtt.buffer_size must be >= 0")
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must be >= 0")
	}
	if err := c.Heater.validate("heater"); err != nil {
		return err
	}
	if c.Cooler != nil {
		if err := c.Cooler.validate("cooler"); err != nil {
			return err
		}
	}
	return c.Thermostat.validate()
}

func (d *DeviceConfig) validate(name string) error {
	switch d.Type {
	case DeviceGPIO:
		if d.Pin < 0 {
			return fmt.Errorf("%s.pin must be >= 0", name)
		}
	case DeviceMQTT:
		if d.Topic == "" {
			return fmt.Errorf("%s.topic is required when %s.type is mqtt", name, name)
		}
		if d.MinRefresh < 0 {
			return fmt.Errorf("%s.min_refresh must be >= 0", name)
		}
	default:
		return fmt.Errorf("%s.type must be gpio or mqtt", name)
	}
	return nil
}

func (t *ThermostatConfig) validate() error {
	if t.InitialHVACMode != "" {
		if _, err := thermostat.ParseHVACMode(t.InitialHVACMode); err != nil {
			return fmt.Errorf("thermostat.initial_hvac_mode must be one of off, heat, cool, heat_cool")
		}
	}
	switch t.PresetSyncMode {
	case "sync", "none":
	default:
		return fmt.Errorf("thermostat.preset_sync_mode must be sync or none")
	}
	for name := range t.Presets {
		if p, err := thermostat.ParsePreset(name); err != nil || p == thermostat.PresetNone {
			return fmt.Errorf("thermostat.presets: unknown preset %q", name)
		}
	}
	if !(t.MinTemp < t.MaxTemp) {
		return fmt.Errorf("thermostat.min_temp must be < thermostat.max_temp")
	}
	if !(t.OutputMin < t.OutputMax) {
		return fmt.Errorf("thermostat.output_min must be < thermostat.output_max")
	}
	if !(t.OutClampLow < t.OutClampHigh) {
		return fmt.Errorf("thermostat.out_clamp_low must be < thermostat.out_clamp_high")
	}
	if t.ColdTolerance < 0 || t.HotTolerance < 0 {
		return fmt.Errorf("thermostat tolerances must be >= 0")
	}
	if t.OutputPrecision < 0 {
		return fmt.Errorf("thermostat.output_precision must be >= 0")
	}
	if t.PWM < 0 || t.SamplingPeriod < 0 || t.SensorStall < 0 || t.MinCycleDuration < 0 {
		return fmt.Errorf("thermostat durations must be >= 0")
	}
	if t.KeepAlive <= 0 {
		return fmt.Errorf("thermostat.keep_alive must be > 0")
	}
	if t.AutotuneEnabled() {
		if _, err := autotune.ParseRule(t.Autotune); err != nil {
			return fmt.Errorf("thermostat.autotune: unknown rule %q", t.Autotune)
		}
		if t.Lookback <= 0 {
			return fmt.Errorf("thermostat.lookback must be > 0 when autotune is enabled")
		}
		if t.Noiseband < 0 {
			return fmt.Errorf("thermostat.noiseband must be >= 0")
		}
	}
	return nil
}

// AutotuneEnabled reports whether a tuning rule is configured.
func (t *ThermostatConfig) AutotuneEnabled() bool {
	return t.Autotune != "" && t.Autotune != "none"
}

func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
