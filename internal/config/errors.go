package config

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed configuration source.
type ParseError struct {
	Source Source
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IncludeCycleError reports a file that includes itself, directly or not.
// Chain starts and ends with the repeated file.
type IncludeCycleError struct {
	Chain []string
}

func (e *IncludeCycleError) Error() string {
	return "include cycle: " + strings.Join(e.Chain, " -> ")
}

// UnresolvedReferenceError reports a name that refers to nothing: an
// inherited pattern that is not declared, or an empty gateway name.
type UnresolvedReferenceError struct {
	// Kind is "inherits" or "gateway".
	Kind string
	Name string
	// From is the pattern or alias holding the reference.
	From   string
	Source Source
}

func (e *UnresolvedReferenceError) Error() string {
	msg := fmt.Sprintf("%s %q referenced by %q not found", e.Kind, e.Name, e.From)
	if e.Source.File != "" {
		return e.Source.String() + ": " + msg
	}
	return msg
}
