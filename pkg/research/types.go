package research

import (
	"context"
	"errors"
	"time"
)

// MaxIterations bounds the search/extract loop of one run.
const MaxIterations = 3

var (
	// ErrNotFound is returned when a target or its owning company cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrTransientSearch wraps a failed search or extract call. The run is not retried.
	ErrTransientSearch = errors.New("transient search failure")
	// ErrPersistence wraps a failed save of the final result.
	ErrPersistence = errors.New("persistence failure")
)

// Target identifies the entity being researched.
type Target struct {
	ID        string `json:"target_id"`
	Name      string `json:"name"`
	Domain    string `json:"domain,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

// SearchHit is a single result returned by a SearchProvider
type SearchHit struct {
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// IterationRecord is the audit entry for one pass of the loop.
type IterationRecord struct {
	Iteration int         `json:"iteration"`
	Query     string      `json:"query"`
	Hits      []SearchHit `json:"hits"`
	Found     []Field     `json:"found"`
}

// EventKind classifies events emitted by the engine.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// Event is emitted by the engine after every iteration and once at the end of a run.
type Event struct {
	Kind            EventKind `json:"type"`
	Iteration       int       `json:"iteration"`
	TotalIterations int       `json:"total_iterations"`
	Query           string    `json:"query,omitempty"`
	FieldsFound     []Field   `json:"fields_found"`
	FieldsMissing   []Field   `json:"fields_remaining"`
	Results         FieldSet  `json:"results"`
	Err             string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// SearchProvider runs a web search. Implementations own their timeouts.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// Extractor turns search hits into a partial FieldSet. An empty FieldSet means nothing was found.
type Extractor interface {
	Extract(ctx context.Context, hits []SearchHit, target Target) (FieldSet, error)
}

// IdentityResolver loads the target for an id, failing with ErrNotFound.
type IdentityResolver interface {
	Resolve(ctx context.Context, targetID string) (Target, error)
}

// ResultSink persists the validated result of a run together with its audit trail.
type ResultSink interface {
	Save(ctx context.Context, target Target, fields FieldSet, sourceURLs []string, records []IterationRecord) error
}
