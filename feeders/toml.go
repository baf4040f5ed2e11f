package feeders

import (
	"errors"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads a TOML file.
type TomlFeeder struct {
	Path string
}

func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the file into target.
func (t TomlFeeder) Feed(target any) error {
	if _, err := toml.DecodeFile(t.Path, target); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return wrapFileError(t.Path, err)
		}
		return wrapDecodeError("toml", t.Path, err)
	}
	return nil
}

// FeedKey decodes one top-level table into target.
func (t TomlFeeder) FeedKey(key string, target any) error {
	return feedKey(t, key, target, toml.Marshal, toml.Unmarshal, "toml")
}
