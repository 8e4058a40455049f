package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndukwe/dicebrawl/internal/game/battle"
	"github.com/ndukwe/dicebrawl/internal/identity"
	"github.com/ndukwe/dicebrawl/internal/store"
)

// Service creates, joins, and discovers rooms over the document store.
type Service struct {
	store           store.Store
	logger          *zap.Logger
	conflictRetries int
	now             func() time.Time
	newID           func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the creation timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides room id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a room Service.
//
// Precondition: st and logger must be non-nil; conflictRetries must be >= 1.
func NewService(st store.Store, logger *zap.Logger, conflictRetries int, opts ...Option) *Service {
	s := &Service{
		store:           st,
		logger:          logger,
		conflictRetries: conflictRetries,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new room with the creator seated in slot player1.
//
// Postcondition: The returned document is persisted with status waiting
// and an empty battle state.
func (s *Service) Create(ctx context.Context, creator identity.Identity) (Document, error) {
	doc := Document{
		ID:        s.newID(),
		CreatedBy: creator.ID,
		Status:    battle.StatusWaiting,
		Players: map[string]Player{
			PlayerKey(creator.ID): {
				ParticipantID: creator.ID,
				Username:      creator.Username,
				Role:          RoleCreator,
			},
		},
		Slots:     map[battle.Slot]int64{battle.SlotPlayer1: creator.ID},
		Game:      battle.NewState(),
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.Create(ctx, doc.ID, doc); err != nil {
		return Document{}, fmt.Errorf("creating room: %w", err)
	}
	s.logger.Info("room created",
		zap.String("room", doc.ID),
		zap.Int64("creator", creator.ID),
	)
	return doc, nil
}

// Join seats the challenger in slot player2 and advances the room to
// character selection.
//
// Postcondition: Returns ErrRoomFull when both seats are taken,
// ErrAlreadyJoined when the challenger is already a member, and
// ErrNotJoinable when the room has left the waiting phase. On success
// the returned document includes the challenger and both the room and
// game status are character-select.
func (s *Service) Join(ctx context.Context, roomID string, challenger identity.Identity) (Document, error) {
	for attempt := 0; attempt < s.conflictRetries; attempt++ {
		var doc Document
		rev, err := s.store.Get(ctx, roomID, &doc)
		if err != nil {
			return Document{}, fmt.Errorf("loading room %q: %w", roomID, err)
		}

		if doc.HasPlayer(challenger.ID) {
			return Document{}, ErrAlreadyJoined
		}
		if doc.Full() {
			return Document{}, ErrRoomFull
		}
		if doc.Status != battle.StatusWaiting {
			return Document{}, ErrNotJoinable
		}

		player := Player{
			ParticipantID: challenger.ID,
			Username:      challenger.Username,
			Role:          RoleChallenger,
		}
		_, err = s.store.Update(ctx, roomID, rev, store.Fields{
			"players." + PlayerKey(challenger.ID): player,
			"slots.player2":                       challenger.ID,
			"status":                              battle.StatusCharacterSelect,
			"game.gameStatus":                     battle.StatusCharacterSelect,
		})
		if errors.Is(err, store.ErrRevisionConflict) {
			s.logger.Debug("join lost a write race, retrying",
				zap.String("room", roomID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return Document{}, fmt.Errorf("joining room %q: %w", roomID, err)
		}

		doc.Players[PlayerKey(challenger.ID)] = player
		doc.Slots[battle.SlotPlayer2] = challenger.ID
		doc.Status = battle.StatusCharacterSelect
		doc.Game.Status = battle.StatusCharacterSelect
		s.logger.Info("room joined",
			zap.String("room", roomID),
			zap.Int64("challenger", challenger.ID),
		)
		return doc, nil
	}
	return Document{}, fmt.Errorf("joining room %q: %w", roomID, store.ErrRevisionConflict)
}

// FindOpen lists rooms waiting for a challenger, excluding the
// caller's own.
func (s *Service) FindOpen(ctx context.Context, me identity.Identity) ([]Document, error) {
	var docs []Document
	err := s.store.Query(ctx, []store.Cond{
		{Path: "status", Op: store.OpEq, Value: battle.StatusWaiting},
		{Path: "createdBy", Op: store.OpNeq, Value: me.ID},
	}, &docs)
	if err != nil {
		return nil, fmt.Errorf("finding open rooms: %w", err)
	}
	return docs, nil
}

// FindMine lists rooms the caller is a member of.
func (s *Service) FindMine(ctx context.Context, me identity.Identity) ([]Document, error) {
	var docs []Document
	err := s.store.Query(ctx, []store.Cond{
		{Path: "players." + PlayerKey(me.ID), Op: store.OpExists},
	}, &docs)
	if err != nil {
		return nil, fmt.Errorf("finding my rooms: %w", err)
	}
	return docs, nil
}

// Get loads the room document.
func (s *Service) Get(ctx context.Context, roomID string) (Document, int64, error) {
	var doc Document
	rev, err := s.store.Get(ctx, roomID, &doc)
	if err != nil {
		return Document{}, 0, fmt.Errorf("loading room %q: %w", roomID, err)
	}
	return doc, rev, nil
}
