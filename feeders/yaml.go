package feeders

import (
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads a YAML file.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder for filePath.
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the file into target.
func (y YamlFeeder) Feed(target any) error {
	raw, err := os.ReadFile(y.Path)
	if err != nil {
		return wrapFileError(y.Path, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return wrapDecodeError("yaml", y.Path, err)
	}
	return nil
}

// FeedKey decodes one top-level section into target.
func (y YamlFeeder) FeedKey(key string, target any) error {
	return feedKey(y, key, target, yaml.Marshal, yaml.Unmarshal, "YAML")
}
