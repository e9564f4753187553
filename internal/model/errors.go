package model

import "fmt"

// EmbeddingError indicates the embedding model was unavailable or
// rejected the input.
type EmbeddingError struct {
	Model   string
	Message string
	Err     error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding failed (model %s): %s: %v", e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("embedding failed (model %s): %s", e.Model, e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// CollectionError indicates the vector backend is unreachable or an
// existing collection's schema conflicts with configuration.
type CollectionError struct {
	Collection string
	Message    string
	Err        error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collection %s: %s: %v", e.Collection, e.Message, e.Err)
	}
	return fmt.Sprintf("collection %s: %s", e.Collection, e.Message)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// SchemaError indicates the policy document failed validation. The
// whole load fails; there is no partial policy activation.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("policy schema error on %s: %s", e.Field, e.Message)
}

// NotFoundError indicates an explicit lookup by id found nothing.
// Queries against empty namespaces return empty results, never this.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError indicates invalid configuration detected at startup,
// such as an embedding dimension that does not match the model output.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error on %s: %s", e.Field, e.Message)
}
