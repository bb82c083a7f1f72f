package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cynidn2x/precice/pkg/errors"
)

// Load reads a SchemeConfig from a YAML file and validates it.
func Load(path string) (*SchemeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "reading configuration file "+path)
	}

	var cfg SchemeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "parsing configuration file "+path)
	}

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
