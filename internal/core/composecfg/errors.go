// Package composecfg contains pure functions for inspecting and patching the
// deployment's compose definition. Parsing goes through compose-go; targeted
// edits go through yaml.v3 document nodes so comments and key order of
// untouched entries survive a rewrite.
package composecfg

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput means the compose definition is empty.
	ErrEmptyInput = errors.New("compose definition is empty")

	// ErrInvalidYAML means the definition is not valid YAML.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrNoServices means the definition declares no services.
	ErrNoServices = errors.New("compose definition must define at least one service")

	// ErrServiceNotFound means a targeted patch referenced an absent service.
	ErrServiceNotFound = errors.New("service not found in compose definition")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
