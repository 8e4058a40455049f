package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ndukwe/dicebrawl/internal/store"
)

// subscriberBuffer is the per-subscriber snapshot channel capacity.
// A subscriber that falls this far behind loses its oldest unread
// snapshot, never the newest one.
const subscriberBuffer = 64

// notification is the payload the documents trigger publishes on every
// committed write.
type notification struct {
	ID       string `json:"id"`
	Revision int64  `json:"revision"`
}

type subscriber struct {
	id string
	ch chan store.Snapshot
}

// Store persists documents as JSONB rows and serves a change feed from
// LISTEN/NOTIFY. It implements both store.Store and the service Start/Stop
// contract; Subscribe requires the listener to be running.
type Store struct {
	pool    *Pool
	logger  *zap.Logger
	channel string

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a Store over the given pool.
//
// Precondition: pool must be open; channel must match the notification
// channel the documents trigger publishes on.
func NewStore(pool *Pool, channel string, logger *zap.Logger) *Store {
	return &Store{
		pool:    pool,
		logger:  logger,
		channel: channel,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Create inserts a new document with revision 1.
//
// Postcondition: Returns store.ErrAlreadyExists if id is taken.
func (s *Store) Create(ctx context.Context, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %q: %w", id, err)
	}

	_, err = s.pool.DB().Exec(ctx,
		`INSERT INTO documents (id, revision, doc)
		 VALUES ($1, 1, $2)`,
		id, raw,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting document %q: %w", id, err)
	}
	return nil
}

// Get reads the current document into out and returns its revision.
func (s *Store) Get(ctx context.Context, id string, out any) (int64, error) {
	var raw []byte
	var rev int64
	err := s.pool.DB().QueryRow(ctx,
		`SELECT doc, revision FROM documents WHERE id = $1`,
		id,
	).Scan(&raw, &rev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("querying document %q: %w", id, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("decoding document %q: %w", id, err)
	}
	return rev, nil
}

// Update applies fields atomically, conditioned on expectedRevision.
//
// The row is locked, the dot-path fields are applied to the decoded
// document, and the new document is written back in the same
// transaction. The trigger on documents notifies the change feed on
// commit.
func (s *Store) Update(ctx context.Context, id string, expectedRevision int64, fields store.Fields) (int64, error) {
	tx, err := s.pool.DB().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var rev int64
	err = tx.QueryRow(ctx,
		`SELECT doc, revision FROM documents WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&raw, &rev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("locking document %q: %w", id, err)
	}
	if rev != expectedRevision {
		return 0, store.ErrRevisionConflict
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("decoding document %q: %w", id, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	for path, value := range fields {
		normalized, err := store.Normalize(value)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", path, err)
		}
		if err := store.SetPath(doc, path, normalized); err != nil {
			return 0, err
		}
	}

	updated, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encoding document %q: %w", id, err)
	}

	var newRev int64
	err = tx.QueryRow(ctx,
		`UPDATE documents
		 SET doc = $2, revision = revision + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING revision`,
		id, updated,
	).Scan(&newRev)
	if err != nil {
		return 0, fmt.Errorf("updating document %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing update of %q: %w", id, err)
	}
	return newRev, nil
}

// Subscribe registers a change feed for the document. The current
// snapshot is delivered immediately; later snapshots arrive as the
// listener observes committed writes.
//
// Precondition: Start must have been called.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan store.Snapshot, func(), error) {
	sub := &subscriber{id: id, ch: make(chan store.Snapshot, subscriberBuffer)}

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

	// Register before the initial read so a write that commits in
	// between is still dispatched to this subscriber. The feed may then
	// carry a newer revision ahead of the initial snapshot; consumers
	// order by revision.
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var doc json.RawMessage
	rev, err := s.Get(ctx, id, &doc)
	if err != nil {
		stop()
		return nil, nil, err
	}
	sub.ch <- store.Snapshot{Revision: rev, Data: doc}
	return sub.ch, stop, nil
}

// Query decodes every document matching all conds into out.
//
// Precondition: out must be a pointer to a slice.
func (s *Store) Query(ctx context.Context, conds []store.Cond, out any) error {
	where, args, err := buildWhere(conds)
	if err != nil {
		return err
	}

	rows, err := s.pool.DB().Query(ctx,
		`SELECT doc FROM documents`+where+` ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var matched []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scanning document: %w", err)
		}
		matched = append(matched, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating documents: %w", err)
	}

	encoded, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("encoding query results: %w", err)
	}
	return json.Unmarshal(encoded, out)
}

// buildWhere renders conds as a WHERE clause over the JSONB doc column.
func buildWhere(conds []store.Cond) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any
	for _, c := range conds {
		pathArg := len(args) + 1
		args = append(args, strings.Split(c.Path, "."))

		switch c.Op {
		case store.OpEq:
			value, err := json.Marshal(c.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encoding query value for %q: %w", c.Path, err)
			}
			args = append(args, string(value))
			clauses = append(clauses, fmt.Sprintf("doc #> $%d = $%d::jsonb", pathArg, pathArg+1))
		case store.OpNeq:
			value, err := json.Marshal(c.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encoding query value for %q: %w", c.Path, err)
			}
			args = append(args, string(value))
			clauses = append(clauses, fmt.Sprintf("doc #> $%d IS NOT NULL AND doc #> $%d <> $%d::jsonb", pathArg, pathArg, pathArg+1))
		case store.OpExists:
			clauses = append(clauses, fmt.Sprintf("doc #> $%d IS NOT NULL AND doc #> $%d <> 'null'::jsonb", pathArg, pathArg))
		default:
			return "", nil, fmt.Errorf("unknown query op %q", c.Op)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// Start listens for document change notifications and fans them out to
// subscribers. It blocks until Stop is called or the connection fails.
//
// Postcondition: Subscribers receive one snapshot per observed
// notification, carrying the document as of the re-read.
func (s *Store) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	defer close(done)

	conn, err := s.pool.DB().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %q: %w", s.channel, err)
	}
	s.logger.Info("document change listener started", zap.String("channel", s.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		var note notification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
			s.logger.Warn("discarding malformed change notification",
				zap.String("payload", n.Payload),
				zap.Error(err),
			)
			continue
		}
		s.dispatch(ctx, note)
	}
}

// Stop cancels the listener and waits for Start to return.
func (s *Store) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// dispatch re-reads the changed document and delivers it to matching
// subscribers. The notification payload carries only id and revision;
// re-reading keeps payloads small and snapshots complete.
func (s *Store) dispatch(ctx context.Context, note notification) {
	s.mu.Lock()
	interested := false
	for sub := range s.subs {
		if sub.id == note.ID {
			interested = true
			break
		}
	}
	s.mu.Unlock()
	if !interested {
		return
	}

	var doc json.RawMessage
	rev, err := s.Get(ctx, note.ID, &doc)
	if err != nil {
		s.logger.Warn("re-reading changed document failed",
			zap.String("id", note.ID),
			zap.Error(err),
		)
		return
	}
	snap := store.Snapshot{Revision: rev, Data: doc}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.id != note.ID {
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

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
