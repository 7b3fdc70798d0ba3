package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDevAddr = "26011F3A"
	testNwkSKey = "2B7E151628AED2A6ABF7158809CF4F3C"
	testAppSKey = "000102030405060708090A0B0C0D0E0F"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Session = SessionConfig{DevAddr: testDevAddr, NwkSKey: testNwkSKey, AppSKey: testAppSKey}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "ads1115", cfg.ADC.Backend)
	assert.Equal(t, uint16(0x48), cfg.ADC.Address)
	assert.Equal(t, "two", cfg.ADC.Gain)
	assert.Equal(t, 0.0625, cfg.Calibration.MillivoltsPerBit)
	assert.Equal(t, float64(100), cfg.Calibration.SensorMaxCurrent)
	assert.Equal(t, float64(512), cfg.Calibration.SensorMaxMillivolts)
	assert.Equal(t, 0.010162022, cfg.Calibration.Correction)
	assert.Equal(t, float64(220), cfg.Calibration.LineVoltage)
	assert.Equal(t, 1000, cfg.Sampling.Samples)
	assert.Equal(t, uint32(1000), cfg.Uplink.BinWidth)
	assert.Equal(t, 2, cfg.Uplink.InitialDataRate)
	assert.Equal(t, "text", cfg.Uplink.Format)
	assert.False(t, cfg.Uplink.DutyCycle)
	assert.Equal(t, "EU868", cfg.Radio.Region)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, 1000, cfg.Sampling.Samples)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
adc:
  backend: mock
  gain: four

calibration:
  millivolts_per_bit: 0.03125
  sensor_max_current: 30
  sensor_max_millivolts: 1000
  correction: 1.0
  line_voltage: 230

sampling:
  samples: 500

uplink:
  interval: 90s
  bin_width: 10
  format: cayenne
  duty_cycle: true

radio:
  backend: semtech
  address: "10.0.0.2:1700"

store:
  backend: badger
  path: /var/lib/lorameter
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.ADC.Backend)
	assert.Equal(t, "four", cfg.ADC.Gain)
	assert.Equal(t, 0.03125, cfg.Calibration.MillivoltsPerBit)
	assert.Equal(t, float64(30), cfg.Calibration.SensorMaxCurrent)
	assert.Equal(t, float64(230), cfg.Calibration.LineVoltage)
	assert.Equal(t, 500, cfg.Sampling.Samples)
	assert.Equal(t, 90*time.Second, cfg.Uplink.Interval)
	assert.Equal(t, uint32(10), cfg.Uplink.BinWidth)
	assert.Equal(t, "cayenne", cfg.Uplink.Format)
	assert.True(t, cfg.Uplink.DutyCycle)
	assert.Equal(t, "semtech", cfg.Radio.Backend)
	assert.Equal(t, "10.0.0.2:1700", cfg.Radio.Address)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: yaml: content: ["), 0600))

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("radio:\n  port: /dev/ttyAMA0\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Radio.Port)
	assert.Equal(t, 115200, cfg.Radio.BaudRate)        // default
	assert.Equal(t, 5*time.Minute, cfg.Uplink.Interval) // default
}

func TestLoad_ZeroValuesFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  samples: 0\nuplink:\n  bin_width: 0\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Sampling.Samples)
	assert.Equal(t, uint32(1000), cfg.Uplink.BinWidth)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Radio.Port = "/dev/ttyS1"
	cfg.Uplink.Interval = 2 * time.Minute

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", loaded.Radio.Port)
	assert.Equal(t, 2*time.Minute, loaded.Uplink.Interval)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(EnvNwkSKey+"="+testNwkSKey+"\n"), 0600))

	t.Setenv(EnvDevAddr, testDevAddr)
	t.Setenv(EnvAppSKey, testAppSKey)

	cfg := Default()
	cfg.LoadEnv(envFile)
	t.Cleanup(func() { os.Unsetenv(EnvNwkSKey) })

	assert.Equal(t, testDevAddr, cfg.Session.DevAddr)
	assert.Equal(t, testNwkSKey, cfg.Session.NwkSKey)
	assert.Equal(t, testAppSKey, cfg.Session.AppSKey)
	assert.NoError(t, cfg.Session.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero samples", mutate: func(c *Config) { c.Sampling.Samples = 0 }, wantErr: errSamplesNotPositive},
		{name: "negative interval", mutate: func(c *Config) { c.Uplink.Interval = -time.Second }, wantErr: errIntervalNotPositive},
		{name: "zero bin width", mutate: func(c *Config) { c.Uplink.BinWidth = 0 }, wantErr: errBinWidthZero},
		{name: "largest bin width", mutate: func(c *Config) { c.Uplink.BinWidth = MaxBinWidth }},
		{name: "bin width overflows ceiling", mutate: func(c *Config) { c.Uplink.BinWidth = MaxBinWidth + 1 }, wantErr: errBinWidthTooLarge},
		{name: "bin width wraps ceiling to zero", mutate: func(c *Config) { c.Uplink.BinWidth = 1 << 31 }, wantErr: errBinWidthTooLarge},
		{name: "initial rate out of range", mutate: func(c *Config) { c.Uplink.InitialDataRate = 7 }, wantErr: errInitialRate},
		{name: "unknown format", mutate: func(c *Config) { c.Uplink.Format = "json" }, wantErr: errUnknownFormat},
		{name: "unknown adc", mutate: func(c *Config) { c.ADC.Backend = "ina219" }, wantErr: errUnknownADC},
		{name: "unknown radio", mutate: func(c *Config) { c.Radio.Backend = "sx1276" }, wantErr: errUnknownRadio},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: errUnknownStore},
		{name: "store without path", mutate: func(c *Config) { c.Store.Path = "" }, wantErr: errStorePathRequired},
		{name: "memory store without path", mutate: func(c *Config) { c.Store = StoreConfig{Backend: "memory"} }},
		{name: "zero line voltage", mutate: func(c *Config) { c.Calibration.LineVoltage = 0 }, wantErr: errCalibration},
		{name: "missing dev addr", mutate: func(c *Config) { c.Session.DevAddr = "" }, wantErr: errDevAddrRequired},
		{name: "short dev addr", mutate: func(c *Config) { c.Session.DevAddr = "2601" }, wantErr: errDevAddrLength},
		{name: "non hex dev addr", mutate: func(c *Config) { c.Session.DevAddr = "ZZ011F3A" }, wantErr: errDevAddrLength},
		{name: "missing nwkskey", mutate: func(c *Config) { c.Session.NwkSKey = "" }, wantErr: errNwkSKeyRequired},
		{name: "short nwkskey", mutate: func(c *Config) { c.Session.NwkSKey = "2B7E" }, wantErr: errNwkSKeyLength},
		{name: "missing appskey", mutate: func(c *Config) { c.Session.AppSKey = "" }, wantErr: errAppSKeyRequired},
		{name: "short appskey", mutate: func(c *Config) { c.Session.AppSKey = "0001" }, wantErr: errAppSKeyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
