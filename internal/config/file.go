package config

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// LoadFile merges the YAML file at path into cfg. Values use the same
// notation as the matching environment variables and flags, for example:
//
//	mode: cpu
//	interval: 1ms
//	heap: 64KiB
//	exposure: 5
func LoadFile(fs afero.Fs, path string, cfg *Config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	known := map[string]bool{}
	t := reflect.TypeOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		if key := tagKey(t.Field(i), "yaml"); key != "" {
			known[key] = true
		}
	}

	var unknown []string
	for key := range values {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("config %s: unknown keys %v", path, unknown)
	}

	return apply(reflect.ValueOf(cfg), "yaml", func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

// Load assembles a configuration from defaults, the optional YAML file and
// the environment. Command-line flags are applied on top by the caller.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(fs, path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := LoadFromEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
