package queue

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a queue entry. There is deliberately no
// "archived" status: finished items are deleted from the queue, the archive
// directory itself is the record of what was downloaded.
type Status string

const (
	StatusPending Status = "pending"
	StatusIgnore  Status = "ignore"
)

// ErrBadTransition is returned for a status change outside the table.
var ErrBadTransition = errors.New("invalid status transition")

var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusIgnore: true},
	StatusIgnore:  {StatusPending: true},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusIgnore
}

// ValidateTransition checks from → to against the transition table.
func ValidateTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	if !transitions[from][to] {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	return nil
}
