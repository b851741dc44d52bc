package ledger

import "fmt"

// SchemaError is a hard validation failure on the write path: unknown kind or
// malformed structured content. Never silently coerced.
type SchemaError struct {
	Kind   Kind
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation for kind %q: %s", e.Kind, e.Reason)
}

// PolicyError means a sensitive-kind write was refused by the active policy.
// A violation record documenting the attempt has already been appended.
type PolicyError struct {
	Source string
	Kind   Kind
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation: source %q may not write kind %q", e.Source, e.Kind)
}
