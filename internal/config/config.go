// Package config loads and validates the build-time constants spec.md §6
// lists, the way the pack's YAML-configured repos do, instead of compiling
// them directly into the image (SPEC_FULL.md §4.12).
package config

import (
	"net/url"
	"os"
	"time"

	ioperrors "github.com/internet-of-plants/iop-core/internal/errors"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"gopkg.in/yaml.v3"
)

// Credentials is the YAML shape of an optional hardcoded SSID/PSK or
// email/password pair.
type Credentials struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Config is the full set of build-time constants of spec.md §6, loaded from
// a YAML file at process start instead of burned into flash.
type Config struct {
	BaseURI          string        `yaml:"baseURI"`
	LogLevel         string        `yaml:"logLevel"`
	SamplingInterval time.Duration `yaml:"samplingInterval"`
	FactoryResetPin  int           `yaml:"factoryResetPin"`
	SensorPins       []int         `yaml:"sensorPins"`
	DHTVersion       int           `yaml:"dhtVersion"`
	HardcodedWifi    *Credentials  `yaml:"hardcodedWifi"`
	HardcodedIop     *Credentials  `yaml:"hardcodedIop"`
	TLSEnabled       bool          `yaml:"tlsEnabled"`
}

// Default returns the built-in fallback configuration used when no file is
// supplied (matches the defaults cited throughout spec.md: 180s sampling,
// D1 reset pin).
func Default() Config {
	return Config{
		BaseURI:          "https://iop.example.com",
		LogLevel:         "info",
		SamplingInterval: 180 * time.Second,
		FactoryResetPin:  5, // D1 on an ESP8266 NodeMCU pin mapping
		SensorPins:       []int{4},
		DHTVersion:       22,
		TLSEnabled:       true,
	}
}

// Load reads and parses a YAML configuration file at path. A missing file
// is not an error: Default() is returned instead, so a fresh checkout runs
// with sane settings.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, ioperrors.Wrap(err, ioperrors.KindUnavailable, "config: read file")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, ioperrors.Wrap(err, ioperrors.KindValidation, "config: parse YAML")
	}
	return cfg, nil
}

// Validate asserts the invariants spec.md §7 requires to hold before the
// loop starts; a violation can only mean a firmware (here: deployment)
// bug, so it panics rather than returning an ordinary error. cmd/iop-cored
// calls Validate before the panic pipeline is constructed, so this panic
// does not pass through the pipeline.
func (c Config) Validate() {
	u, err := url.Parse(c.BaseURI)
	if err != nil || u.Scheme == "" {
		panic("config: base URI " + c.BaseURI + " has no scheme")
	}
	if c.SamplingInterval <= 0 {
		panic("config: sampling interval must be positive")
	}
}

// Level maps the configured textual log level onto logging.Level.
func (c Config) Level() logging.Level {
	switch c.LogLevel {
	case "trace":
		return logging.Trace
	case "debug":
		return logging.Debug
	case "warn":
		return logging.Warn
	case "error":
		return logging.Error
	case "crit":
		return logging.Crit
	case "nolog":
		return logging.NoLog
	default:
		return logging.Info
	}
}

// HardcodedWifiCredentials converts the YAML credentials, if configured,
// into the façade's fixed-width opaque blob representation.
func (c Config) HardcodedWifiCredentials() (hwfacade.Credentials, bool) {
	if c.HardcodedWifi == nil {
		return hwfacade.Credentials{}, false
	}
	var creds hwfacade.Credentials
	copy(creds.SSID[:], c.HardcodedWifi.Name)
	copy(creds.PSK[:], c.HardcodedWifi.Password)
	return creds, true
}
