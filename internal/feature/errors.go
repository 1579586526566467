package feature

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateModule   = errors.New("duplicate module")
	ErrDuplicateTweak    = errors.New("duplicate tweak id")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrSealed            = errors.New("registry is sealed")
	ErrUnknownTweak      = errors.New("unknown tweak")
	ErrLifecycle         = errors.New("listener lifecycle violation")
	ErrDuplicateBinding  = errors.New("duplicate binding")
	ErrReservedBinding   = errors.New("reserved binding")
)

// ConfigError reports a module that could not be installed.
type ConfigError struct {
	Module string
	Tweak  string // offending tweak id, if any
	Err    error
}

func (e *ConfigError) Error() string {
	name := e.Module
	if name == "" {
		name = "<unnamed>"
	}
	if e.Tweak != "" {
		return fmt.Sprintf("module %s: tweak %q: %v", name, e.Tweak, e.Err)
	}
	return fmt.Sprintf("module %s: %v", name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
