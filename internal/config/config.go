// Package config loads the YAML configuration shared by the garden binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/garden_automation/internal/model/entities"
)

var ErrInvalidConfig = errors.New("invalid config")

// Reactivation policies for a pump activation that arrives while a watering
// event is still waiting for its after-moisture.
const (
	ReactivationRestart = "restart"
	ReactivationKeep    = "keep"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig       `yaml:"mqtt"`
	Database        DatabaseConfig   `yaml:"database"`
	Influx          InfluxConfig     `yaml:"influx"`
	Kafka           KafkaConfig      `yaml:"kafka"`
	Redis           RedisConfig      `yaml:"redis"`
	HTTP            HTTPConfig       `yaml:"http"`
	GRPC            GRPCConfig       `yaml:"grpc"`
	Log             LogConfig        `yaml:"log"`
	Automation      AutomationConfig `yaml:"automation"`
	Simulator       SimulatorConfig  `yaml:"simulator"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"`

	// ProfileOverrides are decoded on top of the built-in profile of the same
	// name (or "default" for new names). Use Profiles for the merged table.
	ProfileOverrides map[string]yaml.Node `yaml:"profiles"`

	profiles map[string]entities.DefaultSettingsProfile
}

type MQTTConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	User              string   `yaml:"user"`
	Password          string   `yaml:"password"`
	ClientID          string   `yaml:"client_id"`
	SensorTopic       string   `yaml:"sensor_topic"`
	ControlTopic      string   `yaml:"control_topic"`
	QoS               int      `yaml:"qos"`
	ConnectRetries    int      `yaml:"connect_retries"`
	ConnectMaxElapsed Duration `yaml:"connect_max_elapsed"`
	KeepAlive         Duration `yaml:"keepalive"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InfluxConfig configures the optional time-series mirror.
type InfluxConfig struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url"`
	Token       string   `yaml:"token"`
	Org         string   `yaml:"org"`
	Bucket      string   `yaml:"bucket"`
	Measurement string   `yaml:"measurement"`
	MaxFailures uint32   `yaml:"max_failures"` // consecutive failures before the breaker opens
	OpenTimeout Duration `yaml:"open_timeout"`
}

// KafkaConfig configures the watering-event dataset export.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig points at the store where an external model writes predictions.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

type AutomationConfig struct {
	Reactivation string   `yaml:"reactivation"` // restart | keep
	Timezone     string   `yaml:"timezone"`
	DedupTTL     Duration `yaml:"dedup_ttl"`
	DedupMax     int      `yaml:"dedup_max"`
	// ReadyErrorAge is how long the Influx mirror must be error-free for /readyz.
	ReadyErrorAge Duration `yaml:"ready_error_age"`
	// PredictionMaxAge is how old a stored prediction may be and still
	// select the model-based strategy.
	PredictionMaxAge Duration `yaml:"prediction_max_age"`
}

// Location resolves Timezone, defaulting to UTC.
func (c AutomationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SimulatorConfig drives internal/node-simulator.
type SimulatorConfig struct {
	Plants    []int64  `yaml:"plants"`
	PlantType string   `yaml:"plant_type"`
	Interval  Duration `yaml:"interval"`
	DryRate   float64  `yaml:"dry_rate"` // moisture lost per reading
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
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

// Load reads a .env file when present, then parses path with ${VAR:default}
// expansion, applies defaults and validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes an in-memory configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.applyDefaults()

	profiles, err := mergeProfiles(cfg.ProfileOverrides)
	if err != nil {
		return nil, err
	}
	cfg.profiles = profiles

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "garden-automation"
	}
	if c.MQTT.SensorTopic == "" {
		c.MQTT.SensorTopic = "garden/+/sensors"
	}
	if c.MQTT.ControlTopic == "" {
		c.MQTT.ControlTopic = "garden/{plant}/control"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.ConnectRetries == 0 {
		c.MQTT.ConnectRetries = 5
	}
	if c.MQTT.ConnectMaxElapsed == 0 {
		c.MQTT.ConnectMaxElapsed = Duration(10 * time.Second)
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = Duration(30 * time.Second)
	}

	if c.Database.Path == "" {
		c.Database.Path = "./garden.sqlite"
	}

	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "garden"
	}
	if c.Influx.MaxFailures == 0 {
		c.Influx.MaxFailures = 5
	}
	if c.Influx.OpenTimeout == 0 {
		c.Influx.OpenTimeout = Duration(30 * time.Second)
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "garden.watering-events"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "garden:prediction:"
	}

	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.GRPC.Port == 0 {
		c.GRPC.Port = 9090
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Automation.Reactivation == "" {
		c.Automation.Reactivation = ReactivationRestart
	}
	if c.Automation.DedupTTL == 0 {
		c.Automation.DedupTTL = Duration(10 * time.Minute)
	}
	if c.Automation.DedupMax == 0 {
		c.Automation.DedupMax = 20000
	}
	if c.Automation.ReadyErrorAge == 0 {
		c.Automation.ReadyErrorAge = Duration(30 * time.Second)
	}
	if c.Automation.PredictionMaxAge == 0 {
		c.Automation.PredictionMaxAge = Duration(time.Hour)
	}

	if len(c.Simulator.Plants) == 0 {
		c.Simulator.Plants = []int64{101}
	}
	if c.Simulator.Interval == 0 {
		c.Simulator.Interval = Duration(10 * time.Second)
	}
	if c.Simulator.DryRate == 0 {
		c.Simulator.DryRate = 2
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports the first inconsistent setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Automation.Reactivation {
	case ReactivationRestart, ReactivationKeep:
	default:
		return fmt.Errorf("%w: automation.reactivation %q (want %s or %s)",
			ErrInvalidConfig, c.Automation.Reactivation, ReactivationRestart, ReactivationKeep)
	}
	if _, err := c.Automation.Location(); err != nil {
		return fmt.Errorf("%w: automation.timezone: %v", ErrInvalidConfig, err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos %d", ErrInvalidConfig, c.MQTT.QoS)
	}
	if !strings.Contains(c.MQTT.ControlTopic, "{plant}") {
		return fmt.Errorf("%w: mqtt.control_topic must contain {plant}", ErrInvalidConfig)
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("%w: influx enabled but url/org/bucket missing", ErrInvalidConfig)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka enabled without brokers", ErrInvalidConfig)
	}
	if _, ok := c.profiles[entities.DefaultProfileName]; !ok {
		return fmt.Errorf("%w: profile %q is required", ErrInvalidConfig, entities.DefaultProfileName)
	}
	for name, p := range c.profiles {
		for _, b := range []string{p.LightScheduleStart, p.LightScheduleEnd} {
			if _, err := time.Parse(entities.TimeOfDayLayout, b); err != nil {
				return fmt.Errorf("%w: profile %q schedule bound %q is not HH:MM:SS", ErrInvalidConfig, name, b)
			}
		}
	}
	return nil
}

// Profiles returns the built-in profiles with the configured overrides applied.
func (c *Config) Profiles() map[string]entities.DefaultSettingsProfile {
	out := make(map[string]entities.DefaultSettingsProfile, len(c.profiles))
	for k, v := range c.profiles {
		out[k] = v
	}
	return out
}

func mergeProfiles(overrides map[string]yaml.Node) (map[string]entities.DefaultSettingsProfile, error) {
	profiles := entities.BuiltinProfiles()
	for name, node := range overrides {
		base, ok := profiles[name]
		if !ok {
			base = profiles[entities.DefaultProfileName]
		}
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("%w: profile %q: %v", ErrInvalidConfig, name, err)
		}
		base.PlantType = name
		profiles[name] = base
	}
	return profiles, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return defaultVal
	})
}
