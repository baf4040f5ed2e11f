package feeders

import (
	"encoding/json"
	"os"
)

// JSONFeeder reads a JSON file.
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a JSONFeeder for filePath.
func NewJSONFeeder(filePath string) *JSONFeeder {
	return &JSONFeeder{Path: filePath}
}

// Feed decodes the file into target.
func (j *JSONFeeder) Feed(target any) error {
	raw, err := os.ReadFile(j.Path)
	if err != nil {
		return wrapFileError(j.Path, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return wrapDecodeError("json", j.Path, err)
	}
	return nil
}

// FeedKey decodes one top-level member into target.
func (j *JSONFeeder) FeedKey(key string, target any) error {
	return feedKey(j, key, target, json.Marshal, json.Unmarshal, "JSON")
}
