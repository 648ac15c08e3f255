// Package uuid generates envelope identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings, so envelope IDs sort in
// send order.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
