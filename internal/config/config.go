// Package config loads run configuration from defaults, a TOML file,
// DLTCAL_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName          = "dltcal"
	DefaultEnvPrefix = "DLTCAL"
	DefaultLogLevel  = "info"

	// ConfigFlag names the flag that points at a config file.
	ConfigFlag = "config"
)

type Config struct {
	StartTemperature float64 `mapstructure:"start_temperature"`
	StopTemperature  float64 `mapstructure:"stop_temperature"`
	StepTemperature  float64 `mapstructure:"step_temperature"`

	PollInterval            time.Duration `mapstructure:"poll_interval"`
	SupervisoryTickInterval time.Duration `mapstructure:"supervisory_tick_interval"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	MaxConsecutiveFailures  int           `mapstructure:"max_consecutive_failures"`

	StabilityToleranceAbs    float64 `mapstructure:"stability_tolerance_abs"`
	StabilityStdTol          float64 `mapstructure:"stability_std_tol"`
	StabilityBufferLength    int     `mapstructure:"stability_buffer_length"`
	StabilityResetOnSetpoint bool    `mapstructure:"stability_reset_on_setpoint"`

	OutputDir string `mapstructure:"output_dir"`
	LogLevel  string `mapstructure:"log_level"`

	Port             string `mapstructure:"port"`
	BaudRate         int    `mapstructure:"baud_rate"`
	ControlLoop      int    `mapstructure:"control_loop"`
	HeaterRange      string `mapstructure:"heater_range"`
	HeatersOffOnStop bool   `mapstructure:"heaters_off_on_stop"`
	Simulate         bool   `mapstructure:"simulate"`

	Listen string `mapstructure:"listen"`

	Telemetry             bool          `mapstructure:"telemetry"`
	TelemetryDB           string        `mapstructure:"telemetry_db"`
	TelemetryBatchSize    int           `mapstructure:"telemetry_batch_size"`
	TelemetryBatchTimeout time.Duration `mapstructure:"telemetry_batch_timeout"`

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

type setting struct {
	key   string
	value any
	usage string
}

var settings = []setting{
	{"start_temperature", 50.0, "First setpoint in K"},
	{"stop_temperature", 300.0, "Last setpoint in K"},
	{"step_temperature", 10.0, "Distance between setpoints in K"},
	{"poll_interval", 500 * time.Millisecond, "Temperature polling interval"},
	{"supervisory_tick_interval", 10 * time.Second, "How often stability is checked"},
	{"read_timeout", 2 * time.Second, "Timeout of a single device read"},
	{"max_consecutive_failures", 5, "Failed reads in a row before polling gives up"},
	{"stability_tolerance_abs", 0.02, "Allowed |mean - setpoint| in K"},
	{"stability_std_tol", 0.05, "Allowed standard deviation in K"},
	{"stability_buffer_length", 60, "Samples in the stability window"},
	{"stability_reset_on_setpoint", true, "Clear the stability window on every setpoint change"},
	{"output_dir", "", "Directory for the temperature log and spectra"},
	{"log_level", DefaultLogLevel, "Log level (debug, info, warning, error)"},
	{"port", "", "Serial port of the temperature controller; empty to auto-detect"},
	{"baud_rate", 57600, "Serial baud rate"},
	{"control_loop", 1, "Control loop driven by the run (1 or 2)"},
	{"heater_range", "high", "Heater range while running (low, medium, high)"},
	{"heaters_off_on_stop", true, "Switch heaters off when a run ends"},
	{"simulate", false, "Use the simulated bench instead of hardware"},
	{"listen", "", "HTTP listen address; empty disables the API"},
	{"telemetry", false, "Record readings and captures to SQLite"},
	{"telemetry_db", "dltcal-telemetry.db", "Telemetry database path"},
	{"telemetry_batch_size", 50, "Readings per telemetry write batch"},
	{"telemetry_batch_timeout", 10 * time.Second, "Maximum delay before a telemetry batch is written"},
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds one flag per setting, plus --config, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFlag, "", "Path to a TOML config file")
	for _, s := range settings {
		name := flagName(s.key)
		switch v := s.value.(type) {
		case float64:
			fs.Float64(name, v, s.usage)
		case int:
			fs.Int(name, v, s.usage)
		case bool:
			fs.Bool(name, v, s.usage)
		case string:
			fs.String(name, v, s.usage)
		case time.Duration:
			fs.Duration(name, v, s.usage)
		}
	}
}

// Load resolves the configuration. fs may be nil.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, s := range settings {
			if f := fs.Lookup(flagName(s.key)); f != nil {
				if err := v.BindPFlag(s.key, f); err != nil {
					return nil, errFactory.Wrap(errors.ErrBindFlags, err)
				}
			}
		}
	}

	path := o.configPath
	if path == "" && fs != nil {
		if f := fs.Lookup(ConfigFlag); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("toml")
		for _, p := range searchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
