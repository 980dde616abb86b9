package cmd

import (
	_ "embed" // Required for go:embed
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ruchik19/GuardianGrid/guardiangrid/config"
)

//go:embed prod/config.yaml
var configFile []byte

// Load parses the embedded configuration file and layers environment
// overrides on top of it.
func Load() (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}

	appCfg, err := config.NewConfigFromYaml(&yamlCfg)
	if err != nil {
		return nil, err
	}

	config.ApplyEnvOverrides(appCfg)
	return appCfg, nil
}
