package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config manages service configuration as flattened dotted keys
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
	}
}

// Load reads a YAML configuration file, flattens it into dotted keys and
// applies SAULTO_* environment variable overrides on top.
// A missing file is not an error; environment overrides still apply.
func Load(path string) (*Config, error) {
	c := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else {
			var raw map[string]interface{}
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			flattened := make(map[string]string)
			flatten("", raw, flattened)
			c.Update(flattened)
		}
	}

	c.Update(envOverrides())
	return c, nil
}

// flatten converts nested YAML maps into dotted keys ("database.host")
func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]interface{}:
			flatten(key, child, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprintf("%v", child)
		}
	}
}

// envOverrides maps SAULTO_DATABASE_HOST style variables to "database.host" keys
func envOverrides() map[string]string {
	overrides := make(map[string]string)
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "SAULTO_") {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], "SAULTO_"))
		key = strings.ReplaceAll(key, "_", ".")
		overrides[key] = parts[1]
	}
	return overrides
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetOrDefault retrieves a configuration value, falling back to def when unset
func (c *Config) GetOrDefault(key, def string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return def
}

// GetInt retrieves a configuration value as an integer, falling back to def
// when unset or not numeric
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}
