package model

import "fmt"

// InvalidInputError indicates an empty or malformed input, rejected before
// any computation or mutation.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Message)
}
