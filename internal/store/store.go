// Package store defines the shared-document-store capability the game
// synchronizes through: create-with-initial-value, atomic partial-field
// update by dot-path guarded by an optimistic-concurrency revision,
// point read, subscribe-for-changes, and filtered queries.
//
// The game core depends only on this capability set. Two implementations
// ship with the module: an in-memory store (tests, single-process play)
// and a PostgreSQL store (JSONB documents with LISTEN/NOTIFY change feed).
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound: no document with the given id exists.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists: a document with the given id already exists.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrRevisionConflict: the document changed since the revision the
	// caller read. Reload and re-derive the update.
	ErrRevisionConflict = errors.New("document revision conflict")
)

// Fields is an atomic multi-field update keyed by dot-path
// (e.g. "game.player1.currentHealth"). A nil value writes JSON null,
// which is how tagged optional fields are cleared. All fields in one
// Fields map commit together or not at all; no reader ever observes a
// half-applied update.
type Fields map[string]any

// Op is a query comparison operator.
type Op string

const (
	// OpEq matches documents whose field equals the value.
	OpEq Op = "=="
	// OpNeq matches documents whose field exists and differs from the value.
	OpNeq Op = "!="
	// OpExists matches documents whose field is present and non-null.
	OpExists Op = "exists"
)

// Cond is one filter in a Query.
type Cond struct {
	Path  string
	Op    Op
	Value any
}

// Snapshot is one committed version of a document, delivered in full on
// every change. Revisions increase monotonically per document.
type Snapshot struct {
	Revision int64
	Data     json.RawMessage
}

// Decode unmarshals the snapshot document into out.
func (s Snapshot) Decode(out any) error {
	return json.Unmarshal(s.Data, out)
}

// Store is the shared document store capability.
//
// Implementations MUST apply each Update atomically at document
// granularity and MUST reject updates whose expected revision is stale
// with ErrRevisionConflict.
type Store interface {
	// Create inserts a new document with revision 1.
	//
	// Postcondition: Returns ErrAlreadyExists if id is taken.
	Create(ctx context.Context, id string, doc any) error

	// Get reads the current document into out and returns its revision.
	//
	// Postcondition: Returns ErrNotFound if no document exists.
	Get(ctx context.Context, id string, out any) (int64, error)

	// Update applies fields atomically, conditioned on expectedRevision.
	//
	// Postcondition: On success the document's revision is the returned
	// value (> expectedRevision) and subscribers observe the new snapshot.
	// Returns ErrRevisionConflict without applying anything when the
	// document has moved past expectedRevision.
	Update(ctx context.Context, id string, expectedRevision int64, fields Fields) (int64, error)

	// Subscribe returns a channel that yields the full current document
	// immediately and again after every committed change, plus a stop
	// function. After stop returns, no further snapshots are delivered
	// and the channel is closed.
	Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error)

	// Query decodes every document matching all conds into out, which
	// must be a pointer to a slice.
	Query(ctx context.Context, conds []Cond, out any) error
}
