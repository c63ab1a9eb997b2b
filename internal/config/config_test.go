package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/dltlab/dltcal/internal/config"
	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dltcal.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolate keeps the developer's own config files and environment out of
// the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("DLTCAL_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
start_temperature = 80
stop_temperature = 40
step_temperature = 5
poll_interval = "250ms"
supervisory_tick_interval = "30s"
output_dir = "/data/dlt"
log_level = "debug"
heater_range = "medium"
telemetry = true
telemetry_db = "/path/to/telemetry.db"
`)
	t.Setenv("DLTCAL_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 80.0, cfg.StartTemperature)
	assert.Equal(t, 40.0, cfg.StopTemperature)
	assert.Equal(t, 5.0, cfg.StepTemperature)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.SupervisoryTickInterval)
	assert.Equal(t, "/data/dlt", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "medium", cfg.HeaterRange)
	assert.True(t, cfg.Telemetry)
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.StartTemperature)
	assert.Equal(t, 300.0, cfg.StopTemperature)
	assert.Equal(t, 10.0, cfg.StepTemperature)
	assert.Equal(t, 10*time.Second, cfg.SupervisoryTickInterval)
	assert.Equal(t, 0.02, cfg.StabilityToleranceAbs)
	assert.Equal(t, 0.05, cfg.StabilityStdTol)
	assert.Equal(t, 60, cfg.StabilityBufferLength)
	assert.True(t, cfg.StabilityResetOnSetpoint)
	assert.True(t, cfg.HeatersOffOnStop)
	assert.Equal(t, 57600, cfg.BaudRate)
	assert.Equal(t, 1, cfg.ControlLoop)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.Telemetry)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	isolate(t)
	t.Setenv("DLTCAL_CONFIG", writeConfig(t, "This is not a valid TOML file\n"))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := config.Load(nil, config.WithConfigFile(filepath.Join(t.TempDir(), "nope.toml")))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)
	t.Setenv("DLTCAL_CONFIG", writeConfig(t, `log_level = "invalid"`))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))

	var verr config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "log_level", verr.Field())
	assert.Equal(t, "invalid", verr.Value())
}

func TestPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("DLTCAL_CONFIG", writeConfig(t, "start_temperature = 60\nstop_temperature = 70\n"))
	t.Setenv("DLTCAL_STOP_TEMPERATURE", "90")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level", "debug", "--step-temperature", "2.5"}))

	cfg, err := config.Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.StartTemperature, "file beats default")
	assert.Equal(t, 90.0, cfg.StopTemperature, "env beats file")
	assert.Equal(t, 2.5, cfg.StepTemperature, "flag beats default")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigFlag(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "output_dir = \"/from/flag\"\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path}))

	cfg, err := config.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.OutputDir)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	isolate(t)
	cfg, err := config.Load(nil)
	require.NoError(t, err)

	cfg.StepTemperature = 0
	cfg.PollInterval = 0
	cfg.ControlLoop = 3
	cfg.HeaterRange = "off"

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
	for _, field := range []string{"step_temperature", "poll_interval", "control_loop", "heater_range"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidateBounds(t *testing.T) {
	isolate(t)
	tests := []struct {
		field  string
		mutate func(*config.Config)
	}{
		{"step_temperature", func(c *config.Config) { c.StepTemperature = 1e-15 }},
		{"step_temperature", func(c *config.Config) { c.StepTemperature = config.MinStep / 2 }},
		{"step_temperature", func(c *config.Config) { c.StepTemperature = config.MaxStep + 1 }},
		{"telemetry_batch_size", func(c *config.Config) { c.TelemetryBatchSize = 0 }},
	}

	for _, tt := range tests {
		cfg, err := config.Load(nil)
		require.NoError(t, err)
		tt.mutate(cfg)

		err = cfg.Validate()
		require.Error(t, err, tt.field)
		assert.Contains(t, err.Error(), tt.field)
	}

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.StepTemperature = config.MinStep
	require.NoError(t, cfg.Validate())
	_, err = cfg.Sequence()
	require.NoError(t, err)
}

func TestProcessConfig(t *testing.T) {
	isolate(t)
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.OutputDir = "/out"
	cfg.HeaterRange = "low"

	pc, err := cfg.ProcessConfig()
	require.NoError(t, err)
	assert.Equal(t, 26, pc.Sequence.Len())
	assert.Equal(t, "/out", pc.OutputDir)
	assert.Equal(t, device.HeaterLow, pc.HeaterRange)
	assert.Equal(t, 10*time.Second, pc.TickInterval)
	assert.True(t, pc.ResetOnSetpointChange)

	assert.Equal(t, 60, cfg.DetectorConfig().BufferLength)
	assert.False(t, cfg.TelemetryConfig().Enabled)
}
