package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Overrides is the subset of Config persisted across restarts by
// SET_OPTION, distinct from the layered viper config.yaml: it is a
// small local file the server itself owns and rewrites, round-tripped
// with yaml.v3 rather than viper's own (read-only, layered) loader.
type Overrides struct {
	Shuffle          *bool `yaml:"shuffle,omitempty"`
	Repeat           *bool `yaml:"repeat,omitempty"`
	AutoNext         *bool `yaml:"auto_next,omitempty"`
	ShowStreamErrors *bool `yaml:"show_stream_errors,omitempty"`
}

// LoadOverrides reads path, returning a zero-value Overrides (no
// fields set) if the file does not exist yet.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("config: reading overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overrides{}, fmt.Errorf("config: parsing overrides: %w", err)
	}
	return o, nil
}

// Apply overwrites cfg's whitelisted fields with any set override.
func (o Overrides) Apply(cfg *Config) {
	if o.Shuffle != nil {
		cfg.Shuffle = *o.Shuffle
	}
	if o.Repeat != nil {
		cfg.Repeat = *o.Repeat
	}
	if o.AutoNext != nil {
		cfg.AutoNext = *o.AutoNext
	}
	if o.ShowStreamErrors != nil {
		cfg.ShowStreamErrors = *o.ShowStreamErrors
	}
}

var saveMu sync.Mutex

// SaveOption updates a single whitelisted option's persisted value,
// read-modify-write against path under saveMu so concurrent SET_OPTION
// calls for different names don't clobber each other's persistence.
func SaveOption(path, name string, v bool) error {
	saveMu.Lock()
	defer saveMu.Unlock()
	o, err := LoadOverrides(path)
	if err != nil {
		return err
	}
	switch name {
	case "Shuffle":
		o.Shuffle = &v
	case "Repeat":
		o.Repeat = &v
	case "AutoNext":
		o.AutoNext = &v
	case "ShowStreamErrors":
		o.ShowStreamErrors = &v
	default:
		return nil
	}
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("config: marshaling overrides: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
