package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrAgentConflict    = errors.New("agent already deployed")
	ErrInvalidCommand   = errors.New("invalid control command")
)

// ValidationError — параметры запроса не прошли проверку.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}
