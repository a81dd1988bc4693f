package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures a config Loader.
type LoaderOptions struct {
	// Path is the YAML config file path.
	Path string
}

// Loader loads bridge configuration from a YAML file via koanf.
type Loader struct {
	koanf   *koanf.Koanf
	options LoaderOptions
	parser  *yaml.YAML
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	return &Loader{
		koanf:   koanf.New("."),
		options: opts,
		parser:  yaml.Parser(),
	}, nil
}

// Load reads, env-expands, unmarshals, and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.koanf.Load(file.Provider(l.options.Path), l.parser); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Path, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return l.unmarshalAndProcess()
}

// LoadFromMap builds a Config from an in-memory map. Used by tests and by
// callers constructing a bridge programmatically.
func LoadFromMap(raw map[string]interface{}) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(raw, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config map: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return ProcessConfigPipeline(&cfg)
}

func (l *Loader) expandEnvVarsInKoanf() error {
	expanded := make(map[string]interface{})
	for key, value := range l.koanf.All() {
		expanded[key] = expandValue(value)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return err
	}
	l.koanf = k
	return nil
}

func expandValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return expandEnvVars(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = expandValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = expandValue(item)
		}
		return out
	default:
		return value
	}
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	var cfg Config
	if err := l.koanf.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return ProcessConfigPipeline(&cfg)
}
