package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists at the given path.
var ErrNotFound = errors.New("store: document not found")

// Outcome classifies the result of a create-only write.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeMerged        Outcome = "merged"
	OutcomeError         Outcome = "error"
)

// OpKind selects the write primitive used for a batched operation.
type OpKind int

const (
	OpCreate OpKind = iota
	OpMerge
)

// Op is one pending write against the store.
type Op struct {
	Kind OpKind
	Path string
	Data map[string]any
}

// OpResult is the per-operation outcome of a batch commit. A create that
// found an existing document reports OutcomeAlreadyExists with a nil Err.
type OpResult struct {
	Path    string
	Outcome Outcome
	Err     error
}

// Doc is a document ready to be written.
type Doc struct {
	Path string
	Data map[string]any
}

// DocStore is the document store collaborator. Implementations provide
// their own retry handling for transient faults; callers treat
// OutcomeAlreadyExists as success.
//
// Paths are slash-separated, with the first segment naming the collection
// and the remainder forming the document id.
type DocStore interface {
	// CreateIfAbsent writes the document only if no document exists at
	// path. It never overwrites.
	CreateIfAbsent(ctx context.Context, path string, data map[string]any) (Outcome, error)

	// UpsertMerge merges data into the document at path, creating it if
	// absent. Existing fields not present in data are left untouched.
	UpsertMerge(ctx context.Context, path string, data map[string]any) error

	// Get returns the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (map[string]any, error)

	// BatchCommit applies all ops and reports one result per op, in input
	// order. A failing op never aborts the rest of the batch.
	BatchCommit(ctx context.Context, ops []Op) []OpResult
}

// SplitPath separates a document path into its collection and document id.
func SplitPath(path string) (collection, id string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
