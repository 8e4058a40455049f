// Package memory provides an in-memory document store: the reference
// implementation of the store capability, used by tests and by
// single-process play. It honours the same atomicity, revision, and
// subscription contracts as the PostgreSQL store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ndukwe/dicebrawl/internal/store"
)

// subscriberBuffer is the per-subscriber snapshot channel capacity. When a
// subscriber falls this far behind, its oldest unread snapshot is dropped
// in favour of the newest one.
const subscriberBuffer = 64

type document struct {
	data     map[string]any
	revision int64
}

type subscriber struct {
	id string // document id
	ch chan store.Snapshot
}

// Store is a mutex-guarded in-memory document store.
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	docs   map[string]*document
	subs   map[*subscriber]struct{}
	closed bool
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		docs: make(map[string]*document),
		subs: make(map[*subscriber]struct{}),
	}
}

// Create inserts a new document with revision 1.
//
// Postcondition: Returns store.ErrAlreadyExists if id is taken; otherwise
// the document is readable and subscribable immediately.
func (s *Store) Create(ctx context.Context, id string, doc any) error {
	decoded, err := decode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		return store.ErrAlreadyExists
	}
	d := &document{data: decoded, revision: 1}
	s.docs[id] = d
	s.notifyLocked(id, d)
	return nil
}

// Get reads the current document into out and returns its revision.
func (s *Store) Get(ctx context.Context, id string, out any) (int64, error) {
	s.mu.Lock()
	d, exists := s.docs[id]
	if !exists {
		s.mu.Unlock()
		return 0, store.ErrNotFound
	}
	raw, err := json.Marshal(d.data)
	rev := d.revision
	s.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("encoding document %q: %w", id, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("decoding document %q: %w", id, err)
	}
	return rev, nil
}

// Update applies fields atomically, conditioned on expectedRevision.
//
// Postcondition: Either every field is applied and every subscriber
// observes the new snapshot, or nothing is applied (conflict or path
// error) and the document is unchanged.
func (s *Store) Update(ctx context.Context, id string, expectedRevision int64, fields store.Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.docs[id]
	if !exists {
		return 0, store.ErrNotFound
	}
	if d.revision != expectedRevision {
		return 0, store.ErrRevisionConflict
	}

	// Stage on a copy so a bad path cannot half-apply the update.
	staged, err := decode(d.data)
	if err != nil {
		return 0, err
	}
	for path, value := range fields {
		normalized, err := store.Normalize(value)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", path, err)
		}
		if err := store.SetPath(staged, path, normalized); err != nil {
			return 0, err
		}
	}

	d.data = staged
	d.revision++
	s.notifyLocked(id, d)
	return d.revision, nil
}

// Subscribe registers a change feed for the document. The current snapshot
// is delivered immediately.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan store.Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.docs[id]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	sub := &subscriber{id: id, ch: make(chan store.Snapshot, subscriberBuffer)}
	s.subs[sub] = struct{}{}
	sub.ch <- snapshotLocked(d)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[sub]; ok {
				delete(s.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, stop, nil
}

// Query decodes every document matching all conds into out.
//
// Precondition: out must be a pointer to a slice.
func (s *Store) Query(ctx context.Context, conds []store.Cond, out any) error {
	s.mu.Lock()
	var matched []map[string]any
	for _, d := range s.docs {
		ok := true
		for _, c := range conds {
			m, err := store.Matches(d.data, c)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			if !m {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, d.data)
		}
	}
	s.mu.Unlock()

	raw, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("encoding query results: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// notifyLocked fans the latest snapshot out to matching subscribers.
// Slow subscribers lose intermediate snapshots, never the latest one.
//
// Precondition: s.mu must be held.
func (s *Store) notifyLocked(id string, d *document) {
	snap := snapshotLocked(d)
	for sub := range s.subs {
		if sub.id != id {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

// snapshotLocked renders the document as a Snapshot.
//
// Precondition: s.mu must be held.
func snapshotLocked(d *document) store.Snapshot {
	raw, err := json.Marshal(d.data)
	if err != nil {
		// Documents are built from JSON round-trips, so this is a
		// programmer error, not a runtime condition.
		panic("memory: document not JSON-serializable: " + err.Error())
	}
	return store.Snapshot{Revision: d.revision, Data: raw}
}

// decode round-trips doc into a fresh decoded JSON object.
func decode(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
