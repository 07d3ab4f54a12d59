package permanence

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrInvalidEvent      = errors.New("invalid engagement event")
	ErrItemTerminal      = errors.New("item is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateArchive  = errors.New("item already archived")
	ErrConfiguration     = errors.New("configuration error")
	ErrUnknownKind       = errors.New("unknown significance label")
	ErrItemNotFound      = errors.New("item not found")
	ErrDuplicateItem     = errors.New("item already exists")
	ErrInvalidItem       = errors.New("invalid item")
)

// ItemError ties a failure to the item it happened on.
type ItemError struct {
	ItemID string
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func itemErr(op, id string, err error) error {
	return &ItemError{ItemID: id, Op: op, Err: err}
}

// ConfigError reports an invalid scoring parameter. It unwraps to ErrConfiguration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }
