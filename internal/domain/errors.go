package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNotFound      = errors.New("not found")
)

// EmbeddingError is returned when a text could not be turned into a vector.
// Index is the position of the offending text in the request, or -1 when the
// whole call failed.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("embedding failed for text %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

type RetrievalErrorKind int

const (
	RetrievalEmbedFailed RetrievalErrorKind = iota + 1
	RetrievalSearchFailed
)

func (k RetrievalErrorKind) String() string {
	switch k {
	case RetrievalEmbedFailed:
		return "embed"
	case RetrievalSearchFailed:
		return "search"
	}
	return "unknown"
}

// RetrievalError is fatal for a single retrieval call. Callers are expected to
// degrade to a response without vault context.
type RetrievalError struct {
	Kind  RetrievalErrorKind
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s failed for %q: %v", e.Kind, e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// FileIndexError records a file that could not be indexed during a reindex
// pass. The file keeps no hash entry so the next pass retries it.
type FileIndexError struct {
	Path  string
	Stage string
	Err   error
}

func (e *FileIndexError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *FileIndexError) Unwrap() error { return e.Err }
