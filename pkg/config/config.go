package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the session section. Keys are kept
// out of the YAML file on deployed nodes.
const (
	EnvDevAddr = "LORAMETER_DEVADDR"
	EnvNwkSKey = "LORAMETER_NWKSKEY"
	EnvAppSKey = "LORAMETER_APPSKEY"
)

// MaxBinWidth keeps the six level sweep ceiling within a uint32 counter.
const MaxBinWidth = math.MaxUint32 / 6

// Validation errors.
var (
	errSamplesNotPositive  = errors.New("sampling.samples must be positive")
	errIntervalNotPositive = errors.New("uplink.interval must be positive")
	errBinWidthZero        = errors.New("uplink.bin_width must be positive")
	errBinWidthTooLarge    = fmt.Errorf("uplink.bin_width must not exceed %d", MaxBinWidth)
	errInitialRate         = errors.New("uplink.initial_data_rate must be between 1 and 6")
	errUnknownFormat       = errors.New("uplink.format must be text or cayenne")
	errUnknownADC          = errors.New("adc.backend must be ads1115 or mock")
	errUnknownRadio        = errors.New("radio.backend must be atmodem or semtech")
	errUnknownStore        = errors.New("store.backend must be memory, sqlite or badger")
	errStorePathRequired   = errors.New("store.path is required for persistent backends")
	errCalibration         = errors.New("calibration values must be positive")
	errDevAddrRequired     = errors.New("session.dev_addr is required")
	errDevAddrLength       = errors.New("session.dev_addr must be 4 bytes")
	errNwkSKeyRequired     = errors.New("session.nwk_s_key is required")
	errNwkSKeyLength       = errors.New("session.nwk_s_key must be 16 bytes")
	errAppSKeyRequired     = errors.New("session.app_s_key is required")
	errAppSKeyLength       = errors.New("session.app_s_key must be 16 bytes")
)

// Config represents the node configuration.
type Config struct {
	ADC         ADCConfig         `yaml:"adc"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Uplink      UplinkConfig      `yaml:"uplink"`
	Radio       RadioConfig       `yaml:"radio"`
	Session     SessionConfig     `yaml:"session"`
	Store       StoreConfig       `yaml:"store"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	Mock        MockConfig        `yaml:"mock"`
}

// ADCConfig selects and configures the analog front end.
type ADCConfig struct {
	Backend string `yaml:"backend"` // ads1115 or mock
	Bus     string `yaml:"bus"`     // I2C bus name, empty for the first bus
	Address uint16 `yaml:"address"` // I2C address
	Gain    string `yaml:"gain"`    // twothirds, one, two, four, eight, sixteen
}

// CalibrationConfig contains the current sensor calibration.
type CalibrationConfig struct {
	MillivoltsPerBit    float64 `yaml:"millivolts_per_bit"`
	SensorMaxCurrent    float64 `yaml:"sensor_max_current"`    // A at full-scale output
	SensorMaxMillivolts float64 `yaml:"sensor_max_millivolts"` // mV at full-scale current
	Correction          float64 `yaml:"correction"`            // empirical multiplier
	LineVoltage         float64 `yaml:"line_voltage"`          // V
}

// SamplingConfig contains oversampling parameters.
type SamplingConfig struct {
	Samples int `yaml:"samples"`
}

// UplinkConfig contains the uplink loop parameters.
type UplinkConfig struct {
	Interval        time.Duration `yaml:"interval"`
	BinWidth        uint32        `yaml:"bin_width"`         // sends per spreading factor
	InitialDataRate int           `yaml:"initial_data_rate"` // sweep level used for activation, 1 = SF7
	FPort           uint8         `yaml:"fport"`
	Format          string        `yaml:"format"`    // text or cayenne
	Precision       int           `yaml:"precision"` // decimals for the text format
	DutyCycle       bool          `yaml:"duty_cycle"`
	PersistSweep    bool          `yaml:"persist_sweep"`
}

// RadioConfig selects and configures the LoRaWAN session backend.
type RadioConfig struct {
	Backend        string        `yaml:"backend"` // atmodem or semtech
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	Region         string        `yaml:"region"`
	Address        string        `yaml:"address"`     // packet forwarder UDP endpoint
	GatewayEUI     string        `yaml:"gateway_eui"` // 8 bytes hex
	CommandTimeout time.Duration `yaml:"command_timeout"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	RX1Delay       time.Duration `yaml:"rx1_delay"`
}

// SessionConfig holds the pre-provisioned ABP session.
type SessionConfig struct {
	DevAddr string `yaml:"dev_addr"`
	NwkSKey string `yaml:"nwk_s_key"`
	AppSKey string `yaml:"app_s_key"`
}

// StoreConfig selects the counter store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the HTTP status and metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MockConfig contains simulated sensor configuration.
type MockConfig struct {
	PeakMillivolts float64       `yaml:"peak_millivolts"` // sensor output amplitude (mV)
	Frequency      float64       `yaml:"frequency"`       // mains frequency (Hz)
	NoiseLevel     float64       `yaml:"noise_level"`     // noise amplitude (mV)
	SampleRate     time.Duration `yaml:"sample_rate"`     // simulated conversion time
}

// Default returns a default configuration with the values of the reference node.
func Default() *Config {
	return &Config{
		ADC: ADCConfig{
			Backend: "ads1115",
			Bus:     "",
			Address: 0x48,
			Gain:    "two",
		},
		Calibration: CalibrationConfig{
			MillivoltsPerBit:    0.0625, // gain two, +/-2.048V
			SensorMaxCurrent:    100,
			SensorMaxMillivolts: 512,
			Correction:          0.010162022,
			LineVoltage:         220,
		},
		Sampling: SamplingConfig{
			Samples: 1000,
		},
		Uplink: UplinkConfig{
			Interval:        5 * time.Minute,
			BinWidth:        1000,
			InitialDataRate: 2, // SF8
			FPort:           1,
			Format:          "text",
			Precision:       6,
			DutyCycle:       false,
			PersistSweep:    true,
		},
		Radio: RadioConfig{
			Backend:        "atmodem",
			Port:           "/dev/ttyUSB0",
			BaudRate:       115200,
			Region:         "EU868",
			Address:        "127.0.0.1:1700",
			GatewayEUI:     "0000000000000001",
			CommandTimeout: 5 * time.Second,
			TxTimeout:      30 * time.Second,
			RX1Delay:       time.Second,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "lorameter.db",
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			PeakMillivolts: 256,
			Frequency:      50,
			NoiseLevel:     0.5,
			SampleRate:     time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv applies session overrides from the environment. The given dotenv
// files are read first when present; variables already set in the process
// environment win over the files.
func (c *Config) LoadEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	if v := strings.TrimSpace(os.Getenv(EnvDevAddr)); v != "" {
		c.Session.DevAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNwkSKey)); v != "" {
		c.Session.NwkSKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAppSKey)); v != "" {
		c.Session.AppSKey = v
	}
}

// Validate checks that the configuration can drive a node.
func (c *Config) Validate() error {
	if c.Sampling.Samples <= 0 {
		return errSamplesNotPositive
	}
	if c.Uplink.Interval <= 0 {
		return errIntervalNotPositive
	}
	if c.Uplink.BinWidth == 0 {
		return errBinWidthZero
	}
	if c.Uplink.BinWidth > MaxBinWidth {
		return errBinWidthTooLarge
	}
	if c.Uplink.InitialDataRate < 1 || c.Uplink.InitialDataRate > 6 {
		return errInitialRate
	}
	switch c.Uplink.Format {
	case "text", "cayenne":
	default:
		return errUnknownFormat
	}

	cal := c.Calibration
	if cal.MillivoltsPerBit <= 0 || cal.SensorMaxCurrent <= 0 || cal.SensorMaxMillivolts <= 0 ||
		cal.Correction <= 0 || cal.LineVoltage <= 0 {
		return errCalibration
	}

	switch c.ADC.Backend {
	case "ads1115", "mock":
	default:
		return errUnknownADC
	}
	switch c.Radio.Backend {
	case "atmodem", "semtech":
	default:
		return errUnknownRadio
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite", "badger":
		if c.Store.Path == "" {
			return errStorePathRequired
		}
	default:
		return errUnknownStore
	}

	return c.Session.Validate()
}

// Validate ensures the ABP session attributes are present and well formed.
func (s SessionConfig) Validate() error {
	if s.DevAddr == "" {
		return errDevAddrRequired
	}
	if b, err := hex.DecodeString(s.DevAddr); err != nil || len(b) != 4 {
		return errDevAddrLength
	}
	if s.NwkSKey == "" {
		return errNwkSKeyRequired
	}
	if b, err := hex.DecodeString(s.NwkSKey); err != nil || len(b) != 16 {
		return errNwkSKeyLength
	}
	if s.AppSKey == "" {
		return errAppSKeyRequired
	}
	if b, err := hex.DecodeString(s.AppSKey); err != nil || len(b) != 16 {
		return errAppSKeyLength
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.ADC.Backend == "" {
		c.ADC.Backend = def.ADC.Backend
	}
	if c.ADC.Address == 0 {
		c.ADC.Address = def.ADC.Address
	}
	if c.ADC.Gain == "" {
		c.ADC.Gain = def.ADC.Gain
	}

	if c.Calibration.MillivoltsPerBit == 0 {
		c.Calibration.MillivoltsPerBit = def.Calibration.MillivoltsPerBit
	}
	if c.Calibration.SensorMaxCurrent == 0 {
		c.Calibration.SensorMaxCurrent = def.Calibration.SensorMaxCurrent
	}
	if c.Calibration.SensorMaxMillivolts == 0 {
		c.Calibration.SensorMaxMillivolts = def.Calibration.SensorMaxMillivolts
	}
	if c.Calibration.Correction == 0 {
		c.Calibration.Correction = def.Calibration.Correction
	}
	if c.Calibration.LineVoltage == 0 {
		c.Calibration.LineVoltage = def.Calibration.LineVoltage
	}

	if c.Sampling.Samples == 0 {
		c.Sampling.Samples = def.Sampling.Samples
	}

	if c.Uplink.Interval == 0 {
		c.Uplink.Interval = def.Uplink.Interval
	}
	if c.Uplink.BinWidth == 0 {
		c.Uplink.BinWidth = def.Uplink.BinWidth
	}
	if c.Uplink.InitialDataRate == 0 {
		c.Uplink.InitialDataRate = def.Uplink.InitialDataRate
	}
	if c.Uplink.FPort == 0 {
		c.Uplink.FPort = def.Uplink.FPort
	}
	if c.Uplink.Format == "" {
		c.Uplink.Format = def.Uplink.Format
	}

	if c.Radio.Backend == "" {
		c.Radio.Backend = def.Radio.Backend
	}
	if c.Radio.BaudRate == 0 {
		c.Radio.BaudRate = def.Radio.BaudRate
	}
	if c.Radio.Region == "" {
		c.Radio.Region = def.Radio.Region
	}
	if c.Radio.GatewayEUI == "" {
		c.Radio.GatewayEUI = def.Radio.GatewayEUI
	}
	if c.Radio.CommandTimeout == 0 {
		c.Radio.CommandTimeout = def.Radio.CommandTimeout
	}
	if c.Radio.TxTimeout == 0 {
		c.Radio.TxTimeout = def.Radio.TxTimeout
	}
	if c.Radio.RX1Delay == 0 {
		c.Radio.RX1Delay = def.Radio.RX1Delay
	}

	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.Frequency == 0 {
		c.Mock.Frequency = def.Mock.Frequency
	}
}
