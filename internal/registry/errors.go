package registry

import (
	"errors"
	"fmt"
)

var (
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrCommandNotFound = errors.New("command not found")
)

// NotFoundError wraps ErrPluginNotFound or ErrCommandNotFound with the name
// that was looked up.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s: %s", e.Err, e.Name) }

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) ErrorCode() string { return "command_not_found" }

// RegistrationError reports an operation that could not be registered.
type RegistrationError struct {
	Plugin string
	Rule   string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s%s: %v", e.Plugin, e.Rule, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
