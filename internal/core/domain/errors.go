package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Every typed error below matches exactly one of them with
// errors.Is.
var (
	ErrConfig             = errors.New("config error")
	ErrParse              = errors.New("parse error")
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
	ErrLaunch             = errors.New("launch failure")
	ErrLogin              = errors.New("login failure")
)

// ConfigError reports malformed or ambiguous desired-state input.
type ConfigError struct {
	Container string
	Field     string
	Msg       string
}

func (e *ConfigError) Error() string {
	return describe("config error", e.Container, e.Field, e.Msg)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError is a shorthand used by the loader.
func NewConfigError(container, field, format string, args ...any) *ConfigError {
	return &ConfigError{Container: container, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ParseError reports malformed volume or mount attribute syntax. Column is
// the 1-based offset in Input where parsing stopped.
type ParseError struct {
	Container string
	Field     string
	Index     int
	Input     string
	Column    int
	Msg       string
}

func (e *ParseError) Error() string {
	field := e.Field
	if field != "" {
		field = fmt.Sprintf("%s[%d]", field, e.Index)
	}
	msg := e.Msg
	if e.Input != "" {
		msg = fmt.Sprintf("%s at column %d in %q", e.Msg, e.Column, e.Input)
	}
	return describe("parse error", e.Container, field, msg)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// RuntimeUnavailable means the container runtime could not be reached.
type RuntimeUnavailable struct {
	Op  string
	Err error
}

func (e *RuntimeUnavailable) Error() string {
	return fmt.Sprintf("runtime unavailable: %s: %v", e.Op, e.Err)
}

func (e *RuntimeUnavailable) Unwrap() error { return e.Err }

func (e *RuntimeUnavailable) Is(target error) bool { return target == ErrRuntimeUnavailable }

// LaunchFailure is a per-container failure while converging.
type LaunchFailure struct {
	Container string
	Action    Action
	Err       error
}

func (e *LaunchFailure) Error() string {
	return fmt.Sprintf("launch failure: container %s: %s: %v", e.Container, e.Action, e.Err)
}

func (e *LaunchFailure) Unwrap() error { return e.Err }

func (e *LaunchFailure) Is(target error) bool { return target == ErrLaunch }

// LoginFailure means the registry rejected the credentials, or could not be
// reached. Containers lists who depends on it.
type LoginFailure struct {
	Registry   string
	Containers []string
	Err        error
}

func (e *LoginFailure) Error() string {
	return fmt.Sprintf("login failure: registry %s (needed by %s): %v",
		e.Registry, strings.Join(e.Containers, ", "), e.Err)
}

func (e *LoginFailure) Unwrap() error { return e.Err }

func (e *LoginFailure) Is(target error) bool { return target == ErrLogin }

func describe(kind, container, field, msg string) string {
	var b strings.Builder
	b.WriteString(kind)
	if container != "" {
		b.WriteString(": container ")
		b.WriteString(container)
	}
	if field != "" {
		b.WriteString(": ")
		b.WriteString(field)
	}
	b.WriteString(": ")
	b.WriteString(msg)
	return b.String()
}
