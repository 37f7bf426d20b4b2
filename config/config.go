// Package config loads config.yaml and the liveness model list.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	adhoc "SpoofDetServer/Adhoc"
	"SpoofDetServer/backend"
	"SpoofDetServer/engine"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRPCPort     = 50051
	DefaultHTTPPort    = 8080
	DefaultMonitorPort = 9090
	DefaultModelDir    = "models"
)

type Liveness struct {
	// ConfigFile is a config.json style array of model configs. Relative
	// paths are resolved against the directory of config.yaml.
	ConfigFile  string              `yaml:"configFile"`
	Models      []iface.ModelConfig `yaml:"models"`
	Aggregation string              `yaml:"aggregation"`
	Thresholds  engine.Thresholds   `yaml:"thresholds"`
}

type Config struct {
	RPCPort     int    `yaml:"RPCPort"`
	HTTPPort    int    `yaml:"HTTPPort"`
	MonitorPort int    `yaml:"monitorPort"`
	WorkersNum  int    `yaml:"workersNum"`
	ModelDir    string `yaml:"modelDir"`

	Backend   backend.Options       `yaml:"backend"`
	Logging   logger.Config         `yaml:"logging"`
	Detector  iface.DetectorConfig  `yaml:"detector"`
	Liveness  Liveness              `yaml:"liveness"`
	RegServer adhoc.RegServerConfig `yaml:"regServer"`

	dir string
}

func Default() Config {
	return Config{
		RPCPort:     DefaultRPCPort,
		HTTPPort:    DefaultHTTPPort,
		MonitorPort: DefaultMonitorPort,
		WorkersNum:  1,
		ModelDir:    DefaultModelDir,
		Backend:     backend.Options{Kind: backend.KindOpenCV},
		Liveness: Liveness{
			Aggregation: string(engine.AggregateMean),
			Thresholds:  engine.DefaultThresholds,
		},
		dir: ".",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

func unit(name string, v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0.0 and 1.0, got %f", name, v)
	}
	return nil
}

// Validate checks ranges and names. A non-positive workersNum is reset to 1.
func (c *Config) Validate() error {
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
	}
	var errs []error
	errs = append(errs,
		validPort("RPCPort", c.RPCPort),
		validPort("HTTPPort", c.HTTPPort),
		validPort("monitorPort", c.MonitorPort),
		unit("detector.confThreshold", c.Detector.ConfThreshold),
		unit("detector.nmsThreshold", c.Detector.NMSThreshold),
	)
	if _, err := backend.New(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := engine.ParseAggregation(c.Liveness.Aggregation); err != nil {
		errs = append(errs, err)
	}
	t := c.Liveness.Thresholds
	if t.Probable < 0 || t.Probable > t.Live || t.Live > 1 {
		errs = append(errs, fmt.Errorf("liveness thresholds want 0 <= probable <= live <= 1, got %v/%v", t.Probable, t.Live))
	}
	if c.RegServer.Enabled {
		if c.RegServer.Host == "" {
			errs = append(errs, errors.New("regServer.host is required when enabled"))
		}
		errs = append(errs, validPort("regServer.port", c.RegServer.Port))
	}
	return errors.Join(errs...)
}

// Aggregation returns the parsed ensemble aggregation.
func (c Config) Aggregation() engine.Aggregation {
	a, err := engine.ParseAggregation(c.Liveness.Aggregation)
	if err != nil {
		return engine.AggregateMean
	}
	return a
}

// Path resolves p against the config file directory.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	dir := c.dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, p)
}

// LivenessModels returns the inline model list, or the one read from
// liveness.configFile when no models are inlined.
func (c Config) LivenessModels() ([]iface.ModelConfig, error) {
	if len(c.Liveness.Models) > 0 {
		return c.Liveness.Models, nil
	}
	if c.Liveness.ConfigFile == "" {
		return nil, nil
	}
	return LoadModelConfigs(c.Path(c.Liveness.ConfigFile))
}

// LoadModelConfigs reads a config.json model list. JSON is a subset of YAML,
// so the same decoder serves both formats.
func LoadModelConfigs(path string) ([]iface.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model configs: %w", err)
	}
	return ParseModelConfigs(data)
}

func ParseModelConfigs(data []byte) ([]iface.ModelConfig, error) {
	var configs []iface.ModelConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse model configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("model config list is empty")
	}
	return configs, nil
}
