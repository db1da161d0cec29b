package decision

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads a threshold policy from a standalone YAML file, letting
// operators version drift policy separately from the main configuration.
// Unset fields fall back to the defaults.
func LoadPolicy(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "decision: read policy %s", path)
	}

	// The YAML has a top-level "decision" key.
	var wrapper struct {
		Decision Config `yaml:"decision"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Config{}, eris.Wrap(err, "decision: parse policy")
	}

	cfg := wrapper.Decision
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
