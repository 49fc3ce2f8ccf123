package syncengine

import (
	"io"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/coordinator"
	yaml "gopkg.in/yaml.v2"
)

type RemoteConfig struct {
	Endpoint         string `yaml:"endpoint"`
	SessionTokenPath string `yaml:"sessionTokenPath"`
}

type RetryConfig struct {
	Threshold       int           `yaml:"threshold"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

type Config struct {
	Remote         RemoteConfig           `yaml:"remote"`
	Store          string                 `yaml:"store"`
	Retry          RetryConfig            `yaml:"retry"`
	BarrierTimeout time.Duration          `yaml:"barrierTimeout"`
	ModelTTL       time.Duration          `yaml:"modelTTL"`
	Strategies     []coordinator.Strategy `yaml:"strategies"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: "memory",
		Retry: RetryConfig{
			Threshold:       3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		},
		BarrierTimeout: 500 * time.Millisecond,
		ModelTTL:       15 * time.Minute,
	}
}

// LoadConfiguration reads a yaml engine configuration. Settings that are left
// out keep their default values.
func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}

	for _, s := range cfg.Strategies {
		if err = s.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
