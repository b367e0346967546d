package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a config file (YAML or JSON) and returns the validated
// Config. Format is detected by extension (.yaml/.yml/.json) or by
// content.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse parses config from bytes. ext is the file extension for the
// format hint; empty means detect from content. Unknown fields are
// rejected in both formats.
func Parse(data []byte, ext string) (*Config, error) {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		} else {
			ext = ".yaml"
		}
	}

	var cfg Config
	switch ext {
	case ".yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("parse config yaml: empty file")
			}
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// StrategyByName returns the named strategy, or an error listing the
// configured names.
func (c *Config) StrategyByName(name string) (*Strategy, error) {
	for i := range c.Strategies {
		if c.Strategies[i].Name == name {
			return &c.Strategies[i], nil
		}
	}
	names := make([]string, len(c.Strategies))
	for i, s := range c.Strategies {
		names[i] = s.Name
	}
	return nil, fmt.Errorf("unknown strategy %q (configured: %s)", name, strings.Join(names, ", "))
}
