// Package uuid mints capture tickets.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates random (v4) UUID tickets.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewTicket returns a fresh random ticket in canonical string form.
func (Generator) NewTicket() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate ticket: %w", err)
	}
	return id.String(), nil
}

// Canonical parses s as a UUID and returns its canonical lowercase form.
func Canonical(s string) (string, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
