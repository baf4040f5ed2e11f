// Package feeders populates parameter structs from YAML, TOML and JSON files
// and from prefixed environment variables.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder fills a struct pointer from one source.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder additionally extracts a single top-level section.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// ForFile returns the file feeder matching the extension of path.
func ForFile(path string) (KeyFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("unsupported configuration file extension %q", filepath.Ext(path))
	}
}

// feedKey decodes the whole document into a map, then remarshals one key
// into target so that format-specific type conversions still apply.
func feedKey(
	f Feeder,
	key string,
	target any,
	marshal func(any) ([]byte, error),
	unmarshal func([]byte, any) error,
	format string,
) error {
	var all map[string]any
	if err := f.Feed(&all); err != nil {
		return fmt.Errorf("failed to read %s: %w", format, err)
	}

	value, ok := all[key]
	if !ok {
		return nil
	}

	raw, err := marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", format, err)
	}
	if err := unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", format, err)
	}
	return nil
}
