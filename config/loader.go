package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// durationKeys are the fields parseDurations converts from strings to
// nanoseconds before decoding. Adapter sections hold plain time.Duration
// values, which encoding/json only reads as numbers.
var durationKeys = map[string]bool{
	"jitter_max":        true,
	"handshake_timeout": true,
	"read_timeout":      true,
	"flush_interval":    true,
	"poll_timeout":      true,
	"reconnect_wait":    true,
	"timeout":           true,
	"initial_delay":     true,
	"max_delay":         true,
	"stop_timeout":      true,
	"write_timeout":     true,
	"ping_interval":     true,
	"ttl":               true,
	"upload_timeout":    true,
}

// Loader builds a Config from defaults, file layers and the environment.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader that reads BCISTREAM_* overrides.
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "BCISTREAM",
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation runs Config.Validate at the end of Load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, in that order.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads one layer as a generic map, JSON or YAML by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	format, err := configFormat(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// toMap renders cfg through JSON so layers can be merged key by key.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Nil values in override are ignored.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations walks data and converts string values of duration keys
// to nanoseconds.
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch x := v.(type) {
		case map[string]any:
			if err := parseDurations(x); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(x)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// applyEnvOverrides applies the supported environment overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}
	integer := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	var urls string
	steps := []func() error{
		func() error { return str("ADAPTER_TYPE", &cfg.Adapter.Type) },
		func() error { return str("ADAPTER_EDF_PATH", &cfg.Adapter.EDF.Path) },
		func() error { return str("ADAPTER_WEBSOCKET_URL", &cfg.Adapter.WebSocket.URL) },
		func() error { return integer("SESSION_CHANNEL_COUNT", &cfg.Session.ChannelCount) },
		func() error { return integer("SESSION_SAMPLE_RATE_HZ", &cfg.Session.SampleRateHz) },
		func() error { return boolean("NATS_ENABLED", &cfg.NATS.Enabled) },
		func() error { return str("NATS_URLS", &urls) },
		func() error { return str("NATS_USERNAME", &cfg.NATS.Username) },
		func() error { return str("NATS_PASSWORD", &cfg.NATS.Password) },
		func() error { return str("NATS_TOKEN", &cfg.NATS.Token) },
		func() error { return integer("METRICS_PORT", &cfg.Metrics.Port) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	if urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	return nil
}
