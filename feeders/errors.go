package feeders

import (
	"errors"
	"fmt"
)

// Static error definitions for feeders
var (
	ErrInvalidStructure = errors.New("target must be a non-nil pointer to a struct")
	ErrEmptyPrefix      = errors.New("env: prefix cannot be empty")
	ErrFieldCannotBeSet = errors.New("field cannot be set")
	ErrFileRead         = errors.New("failed to read configuration file")
	ErrDecode           = errors.New("failed to decode configuration file")
)

func wrapFileError(path string, err error) error {
	return fmt.Errorf("%w %s: %w", ErrFileRead, path, err)
}

func wrapDecodeError(format, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrDecode, format, path, err)
}
