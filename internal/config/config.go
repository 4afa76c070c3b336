// Package config loads the agent configuration and the custom check definitions.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root agent configuration. A Config is never modified after
// Load returns it; a reload produces a new value.
type Config struct {
	Default   DefaultConfig   `mapstructure:"default" yaml:"default" json:"default"`
	OITC      OITCConfig      `mapstructure:"oitc" yaml:"oitc" json:"oitc"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`

	// Path is the file the configuration was read from.
	Path string `mapstructure:"-" yaml:"-" json:"-"`

	// Checks are the custom checks parsed from Default.CustomChecks when the
	// configuration was loaded. A reload re-reads them together with the rest.
	Checks *CustomChecks `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig holds the agent's own settings.
type DefaultConfig struct {
	Interval         int    `mapstructure:"interval" yaml:"interval" json:"interval"`
	Address          string `mapstructure:"address" yaml:"address" json:"address"`
	Port             int    `mapstructure:"port" yaml:"port" json:"port"`
	CertFile         string `mapstructure:"certfile" yaml:"certfile" json:"certfile"`
	KeyFile          string `mapstructure:"keyfile" yaml:"keyfile" json:"keyfile"`
	TryAutossl       bool   `mapstructure:"try_autossl" yaml:"try_autossl" json:"try_autossl"`
	AutosslCSRFile   string `mapstructure:"autossl_csr_file" yaml:"autossl_csr_file" json:"autossl_csr_file"`
	AutosslCRTFile   string `mapstructure:"autossl_crt_file" yaml:"autossl_crt_file" json:"autossl_crt_file"`
	AutosslKeyFile   string `mapstructure:"autossl_key_file" yaml:"autossl_key_file" json:"autossl_key_file"`
	AutosslCAFile    string `mapstructure:"autossl_ca_file" yaml:"autossl_ca_file" json:"autossl_ca_file"`
	Verbose          bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	ConfigUpdateMode bool   `mapstructure:"config_update_mode" yaml:"config_update_mode" json:"config_update_mode"`
	// Auth is an optional "user:password" credential for HTTP Basic-Auth.
	Auth string `mapstructure:"auth" yaml:"auth" json:"auth"`
	// CustomChecks is the path of the custom check definitions file.
	CustomChecks          string `mapstructure:"customchecks" yaml:"customchecks" json:"customchecks"`
	TemperatureFahrenheit bool   `mapstructure:"temperature_fahrenheit" yaml:"temperature_fahrenheit" json:"temperature_fahrenheit"`

	CPUStats     bool `mapstructure:"cpustats" yaml:"cpustats" json:"cpustats"`
	DiskStats    bool `mapstructure:"diskstats" yaml:"diskstats" json:"diskstats"`
	DiskIO       bool `mapstructure:"diskio" yaml:"diskio" json:"diskio"`
	NetStats     bool `mapstructure:"netstats" yaml:"netstats" json:"netstats"`
	NetIO        bool `mapstructure:"netio" yaml:"netio" json:"netio"`
	ProcessStats bool `mapstructure:"processstats" yaml:"processstats" json:"processstats"`
	SensorStats  bool `mapstructure:"sensorstats" yaml:"sensorstats" json:"sensorstats"`
	UserStats    bool `mapstructure:"userstats" yaml:"userstats" json:"userstats"`
}

// OITCConfig configures push mode and the certificate exchange.
type OITCConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL      string `mapstructure:"url" yaml:"url" json:"url"`
	APIKey   string `mapstructure:"apikey" yaml:"apikey" json:"apikey"`
	HostUUID string `mapstructure:"hostuuid" yaml:"hostuuid" json:"hostuuid"`
	Proxy    string `mapstructure:"proxy" yaml:"proxy" json:"proxy"`
	Interval int    `mapstructure:"interval" yaml:"interval" json:"interval"`
}

// TelemetryConfig configures the agent's own logs, metrics and traces.
type TelemetryConfig struct {
	// Exporter is one of none, stdout, otlp-grpc, otlp-http, prometheus.
	Exporter    string `mapstructure:"exporter" yaml:"exporter" json:"exporter"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the OITC_AGENT_ prefix (e.g. OITC_AGENT_DEFAULT_PORT).
// The custom checks file named in the config is parsed as part of the load.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	checks, err := LoadCustomChecks(cfg.Default.CustomChecks)
	if err != nil {
		return nil, err
	}
	cfg.Checks = checks
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default.interval", DefaultInterval)
	v.SetDefault("default.address", DefaultAddress)
	v.SetDefault("default.port", DefaultPort)
	v.SetDefault("default.certfile", "")
	v.SetDefault("default.keyfile", "")
	v.SetDefault("default.try_autossl", true)
	v.SetDefault("default.autossl_csr_file", DefaultAutosslCSRFile)
	v.SetDefault("default.autossl_crt_file", DefaultAutosslCRTFile)
	v.SetDefault("default.autossl_key_file", DefaultAutosslKeyFile)
	v.SetDefault("default.autossl_ca_file", DefaultAutosslCAFile)
	v.SetDefault("default.verbose", false)
	v.SetDefault("default.config_update_mode", false)
	v.SetDefault("default.auth", "")
	v.SetDefault("default.customchecks", "")
	v.SetDefault("default.temperature_fahrenheit", false)

	v.SetDefault("default.cpustats", true)
	v.SetDefault("default.diskstats", true)
	v.SetDefault("default.diskio", true)
	v.SetDefault("default.netstats", true)
	v.SetDefault("default.netio", true)
	v.SetDefault("default.processstats", true)
	v.SetDefault("default.sensorstats", true)
	v.SetDefault("default.userstats", true)

	v.SetDefault("oitc.enabled", false)
	v.SetDefault("oitc.url", "")
	v.SetDefault("oitc.apikey", "")
	v.SetDefault("oitc.hostuuid", "")
	v.SetDefault("oitc.proxy", "")
	v.SetDefault("oitc.interval", DefaultPushInterval)

	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "openitcockpit-agent")
	v.SetDefault("telemetry.log_level", "info")
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Default.Interval <= 0 {
		return fmt.Errorf("%w: default.interval must be positive, got %d", ErrInvalid, c.Default.Interval)
	}
	if c.Default.Port <= 0 || c.Default.Port > 65535 {
		return fmt.Errorf("%w: default.port out of range: %d", ErrInvalid, c.Default.Port)
	}
	if (c.Default.CertFile == "") != (c.Default.KeyFile == "") {
		return fmt.Errorf("%w: default.certfile and default.keyfile must be set together", ErrInvalid)
	}
	if c.Default.Auth != "" && !strings.Contains(c.Default.Auth, ":") {
		return fmt.Errorf("%w: default.auth must have the form user:password", ErrInvalid)
	}
	if c.OITC.Interval <= 0 {
		return fmt.Errorf("%w: oitc.interval must be positive, got %d", ErrInvalid, c.OITC.Interval)
	}
	return nil
}

// CheckInterval returns the built-in check interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Default.Interval) * time.Second
}

// PushInterval returns the push interval.
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.OITC.Interval) * time.Second
}

// ListenAddr returns the webserver's host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Default.Address, c.Default.Port)
}

// PushEnabled reports whether push mode is fully configured.
func (c *Config) PushEnabled() bool {
	return c.OITC.Enabled && c.OITC.URL != "" && c.OITC.APIKey != "" && c.OITC.HostUUID != ""
}

// AutosslEnabled reports whether the agent manages its own certificate.
func (c *Config) AutosslEnabled() bool {
	return c.Default.TryAutossl
}

// Credentials splits the Basic-Auth credential. ok is false when auth is disabled.
func (c *Config) Credentials() (user, password string, ok bool) {
	if c.Default.Auth == "" {
		return "", "", false
	}
	user, password, ok = strings.Cut(c.Default.Auth, ":")
	return user, password, ok
}
