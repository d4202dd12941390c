// Package config loads the gateway configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/push"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	BLE BLEConfig `yaml:"ble"`
	Push PushConfig `yaml:"push"`
	Tilt TiltConfig `yaml:"tilt"`
	API APIConfig `yaml:"api"`
}

type GatewayConfig struct {
	ID string `yaml:"id"`
	// Used as ${mdns} for readings without a name.
	Name string `yaml:"name"`
	Token string `yaml:"token"`
	// C or F
	TempUnit string `yaml:"temp_unit"`
	// G (specific gravity) or P (plato)
	GravityUnit string `yaml:"gravity_unit"`
}

type BLEConfig struct {
	Device int `yaml:"device"`
	ActiveScan bool `yaml:"active_scan"`
	// Seconds.
	ScanTime int `yaml:"scan_time"`
	// Seconds between the end of a cycle and the next scan.
	Interval int `yaml:"interval"`
	MaxConnections int `yaml:"max_connections"`
	ConnectionParams ble.ConnParams `yaml:"connection_params"`
}

type HTTPSinkConfig struct {
	Enabled bool `yaml:"enabled"`
	URL string `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Template string `yaml:"template"`
}

type InfluxDBConfig struct {
	Enabled bool `yaml:"enabled"`
	URL string `yaml:"url"`
	Org string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	Token string `yaml:"token"`
	Template string `yaml:"template"`
}

type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`
	// e.g. tcp://localhost:1883
	Broker string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS int `yaml:"qos"`
	Retain bool `yaml:"retain"`
	Template string `yaml:"template"`
}

type PushConfig struct {
	// Seconds that must pass before a reading of the same device is pushed again.
	ResendTime int `yaml:"resend_time"`
	// Seconds.
	Timeout int `yaml:"timeout"`
	TemplateDir string `yaml:"template_dir"`

	HTTPPost HTTPSinkConfig `yaml:"http_post"`
	HTTPPost2 HTTPSinkConfig `yaml:"http_post2"`
	HTTPGet HTTPSinkConfig `yaml:"http_get"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

type TiltConfig struct {
	Push bool `yaml:"push"`
}

type APIConfig struct {
	Bind string `yaml:"bind"`
}

// Load reads the configuration at path on top of the defaults and applies the
// environment overrides. An empty path only applies defaults and environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID: "gravmon-gw",
			Name: "gravmon-gw",
			TempUnit: push.TempUnitC,
			GravityUnit: push.GravityUnitSG,
		},
		BLE: BLEConfig{
			ActiveScan: false,
			ScanTime: 5,
			Interval: 1,
			MaxConnections: ble.DefaultMaxConnections,
			ConnectionParams: ble.ConnParamsDefault,
		},
		Push: PushConfig{
			ResendTime: 300,
			Timeout: 10,
			MQTT: MQTTConfig{
				ClientID: "gravmon-gw",
			},
		},
		API: APIConfig{
			Bind: "localhost:9102",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAVMON_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	if v := os.Getenv("GRAVMON_MQTT_PASSWORD"); v != "" {
		cfg.Push.MQTT.Password = v
	}

	if v := os.Getenv("GRAVMON_INFLUXDB_TOKEN"); v != "" {
		cfg.Push.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAVMON_API_BIND"); v != "" {
		cfg.API.Bind = v
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.TempUnit != push.TempUnitC && c.Gateway.TempUnit != push.TempUnitF {
		errs = append(errs, "gateway.temp_unit must be C or F")
	}

	if c.Gateway.GravityUnit != push.GravityUnitSG && c.Gateway.GravityUnit != push.GravityUnitPlato {
		errs = append(errs, "gateway.gravity_unit must be G or P")
	}

	if c.BLE.ScanTime <= 0 {
		errs = append(errs, "ble.scan_time must be positive")
	}

	if c.BLE.Interval < 0 {
		errs = append(errs, "ble.interval must not be negative")
	}

	if c.BLE.MaxConnections <= 0 {
		errs = append(errs, "ble.max_connections must be positive")
	}

	// normalizes an empty value to the default
	if err := c.BLE.ConnectionParams.Set(string(c.BLE.ConnectionParams)); err != nil {
		errs = append(errs, "ble.connection_params: "+err.Error())
	}

	if c.Push.ResendTime < 0 {
		errs = append(errs, "push.resend_time must not be negative")
	}

	for name, s := range map[string]HTTPSinkConfig{
		"http_post": c.Push.HTTPPost,
		"http_post2": c.Push.HTTPPost2,
		"http_get": c.Push.HTTPGet,
	} {
		if s.Enabled && s.URL == "" {
			errs = append(errs, "push."+name+".url is required when enabled")
		}
	}

	if c.Push.InfluxDB.Enabled && (c.Push.InfluxDB.URL == "" || c.Push.InfluxDB.Bucket == "") {
		errs = append(errs, "push.influxdb.url and push.influxdb.bucket are required when enabled")
	}

	if c.Push.MQTT.Enabled && c.Push.MQTT.Broker == "" {
		errs = append(errs, "push.mqtt.broker is required when enabled")
	}

	if c.Push.MQTT.QoS < 0 || c.Push.MQTT.QoS > 2 {
		errs = append(errs, "push.mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) ScanTime() time.Duration {
	return time.Duration(c.BLE.ScanTime) * time.Second
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.BLE.Interval) * time.Second
}

func (c *Config) ResendTime() time.Duration {
	return time.Duration(c.Push.ResendTime) * time.Second
}

func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Push.Timeout) * time.Second
}

// Templates returns the template overrides set in the file.
func (c *Config) Templates() map[push.Template]string {
	return map[push.Template]string{
		push.TemplateHttpPost: c.Push.HTTPPost.Template,
		push.TemplateHttpPost2: c.Push.HTTPPost2.Template,
		push.TemplateHttpGet: c.Push.HTTPGet.Template,
		push.TemplateInfluxDB: c.Push.InfluxDB.Template,
		push.TemplateMqtt: c.Push.MQTT.Template,
	}
}

// Sinks builds the enabled push sinks, in the order they are pushed to.
func (c *Config) Sinks() []push.Sink {
	var sinks []push.Sink

	timeout := c.PushTimeout()

	if s := c.Push.HTTPPost; s.Enabled {
		sinks = append(sinks, push.NewHTTPPostSink("http-post", push.TemplateHttpPost, s.URL, s.Headers, timeout))
	}

	if s := c.Push.HTTPPost2; s.Enabled {
		sinks = append(sinks, push.NewHTTPPostSink("http-post2", push.TemplateHttpPost2, s.URL, s.Headers, timeout))
	}

	if s := c.Push.HTTPGet; s.Enabled {
		sinks = append(sinks, push.NewHTTPGetSink("http-get", s.URL, s.Headers, timeout))
	}

	if s := c.Push.InfluxDB; s.Enabled {
		sinks = append(sinks, push.NewInfluxDBSink(s.URL, s.Org, s.Bucket, s.Token, timeout))
	}

	if s := c.Push.MQTT; s.Enabled {
		m := push.NewMQTTSink(s.Broker, s.ClientID, s.Username, s.Password, timeout)
		m.QoS = byte(s.QoS)
		m.Retain = s.Retain
		sinks = append(sinks, m)
	}

	return sinks
}
