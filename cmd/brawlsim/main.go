// Package main provides the brawlsim binary: it wires the catalog, the
// document store, and two match clients together and plays a full dice
// battle between two simulated players.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/ndukwe/dicebrawl/internal/config"
	"github.com/ndukwe/dicebrawl/internal/game/battle"
	"github.com/ndukwe/dicebrawl/internal/game/catalog"
	"github.com/ndukwe/dicebrawl/internal/game/dice"
	"github.com/ndukwe/dicebrawl/internal/identity"
	"github.com/ndukwe/dicebrawl/internal/match"
	"github.com/ndukwe/dicebrawl/internal/observability"
	"github.com/ndukwe/dicebrawl/internal/room"
	"github.com/ndukwe/dicebrawl/internal/server"
	"github.com/ndukwe/dicebrawl/internal/store"
	"github.com/ndukwe/dicebrawl/internal/store/memory"
	"github.com/ndukwe/dicebrawl/internal/store/postgres"
)

// maxSteps bounds the simulation so a pathological script cannot spin
// forever.
const maxSteps = 500

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	charactersDir := flag.String("characters", "", "override for the character YAML directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *charactersDir != "" {
		cfg.Catalog.Dir = *charactersDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	// Character catalog: a content directory when configured, the
	// built-in roster otherwise.
	var registry *catalog.Registry
	if cfg.Catalog.Dir != "" {
		registry, err = catalog.LoadFromDir(cfg.Catalog.Dir)
		if err != nil {
			logger.Fatal("loading character catalog",
				zap.String("dir", cfg.Catalog.Dir),
				zap.Error(err),
			)
		}
	} else {
		registry = catalog.Default()
	}
	logger.Info("catalog loaded", zap.Int("characters", registry.Len()))

	// Dice: deterministic when seeded, cryptographic otherwise.
	var src dice.Source
	if cfg.Sim.Seed != 0 {
		src = dice.NewSeededSource(cfg.Sim.Seed)
		logger.Info("using seeded dice", zap.Int64("seed", cfg.Sim.Seed))
	} else {
		src = dice.NewCryptoSource()
	}
	roller := dice.NewRoller(src, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := server.NewLifecycle(logger)

	// Document store backend.
	var st store.Store
	switch cfg.Store.Backend {
	case "postgres":
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		pgStore := postgres.NewStore(pool, cfg.Store.Channel, logger)
		lifecycle.Add("store-listener", pgStore)
		lifecycle.Add("db-health", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {},
		})
		st = pgStore
	default:
		st = memory.New()
	}

	for _, provider := range simProviders {
		player, err := provider.Resolve(ctx)
		if err != nil {
			logger.Fatal("resolving simulated player", zap.Error(err))
		}
		simPlayers = append(simPlayers, player)
	}

	sim := &simulation{
		rooms:   room.NewService(st, logger, cfg.Sim.ConflictRetries),
		clients: map[int64]*match.Client{},
		logger:  logger,
	}
	for _, player := range simPlayers {
		sim.clients[player.ID] = match.NewClient(st, registry, roller, logger.With(zap.String("player", player.Username)), cfg.Sim.ConflictRetries)
	}

	lifecycle.Add("simulation", &server.FuncService{
		StartFn: func() error {
			defer cancel()
			// Give the store listener a beat to establish LISTEN.
			if cfg.Store.Backend == "postgres" {
				time.Sleep(500 * time.Millisecond)
			}
			return sim.run(ctx, registry)
		},
		StopFn: cancel,
	})

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle failed", zap.Error(err))
	}
	logger.Info("brawlsim finished", zap.Duration("elapsed", time.Since(start)))
}

var simProviders = []identity.Provider{
	identity.StaticProvider{Identity: identity.Identity{ID: 1001, Username: "sim-alice"}},
	identity.StaticProvider{Identity: identity.Identity{ID: 2002, Username: "sim-bob"}},
}

// simPlayers is resolved from simProviders during startup.
var simPlayers []identity.Identity

type simulation struct {
	rooms   *room.Service
	clients map[int64]*match.Client
	logger  *zap.Logger
}

// run plays one complete match between the two simulated players.
func (s *simulation) run(ctx context.Context, registry *catalog.Registry) error {
	creator, challenger := simPlayers[0], simPlayers[1]

	doc, err := s.rooms.Create(ctx, creator)
	if err != nil {
		return err
	}
	if _, err := s.rooms.Join(ctx, doc.ID, challenger); err != nil {
		return err
	}

	// Each player watches the room; the watchers also drive auto-skips
	// for players caught without defense charges.
	for _, player := range simPlayers {
		views, stop, err := s.clients[player.ID].Watch(ctx, doc.ID, player)
		if err != nil {
			return err
		}
		defer stop()
		go drainViews(views)
	}

	characters := registry.All()
	if len(characters) < 2 {
		return errors.New("catalog needs at least two characters")
	}
	for i, player := range simPlayers {
		ch := characters[i%len(characters)]
		if err := s.clients[player.ID].SelectCharacter(ctx, doc.ID, player, ch.ID); err != nil {
			return err
		}
		s.logger.Info("simulated player picked character",
			zap.String("player", player.Username),
			zap.String("character", ch.ID),
		)
	}

	if err := s.rollForFirstTurn(ctx, doc.ID); err != nil {
		return err
	}
	return s.playTurns(ctx, doc.ID)
}

// rollForFirstTurn repeats the first-roll exchange until a tie-free
// pair starts the match.
func (s *simulation) rollForFirstTurn(ctx context.Context, roomID string) error {
	for step := 0; step < maxSteps; step++ {
		for _, player := range simPlayers {
			roll, err := s.clients[player.ID].RollAndRecordDice(ctx, roomID, player)
			if err != nil {
				return err
			}
			s.logger.Info("first-turn roll",
				zap.String("player", player.Username),
				zap.Int("roll", roll),
			)
		}

		doc, _, err := s.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if doc.Game.Status == battle.StatusInProgress {
			return nil
		}
		s.logger.Info("first-turn rolls tied, rolling again")
	}
	return errors.New("first turn never decided")
}

// playTurns drives the match to completion. The defender spends a
// charge when one is banked; otherwise the watcher's auto-skip resolves
// the attack.
func (s *simulation) playTurns(ctx context.Context, roomID string) error {
	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doc, _, err := s.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		game := doc.Game

		if game.Status == battle.StatusFinished {
			winnerID := doc.Slots[*game.Winner]
			s.logger.Info("match finished",
				zap.String("winner", string(*game.Winner)),
				zap.Int64("winnerId", winnerID),
				zap.Int("player1Health", battle.DisplayHealth(game.Player1.CurrentHealth)),
				zap.Int("player2Health", battle.DisplayHealth(game.Player2.CurrentHealth)),
			)
			return nil
		}

		if game.LastAttack != nil {
			if err := s.respond(ctx, roomID, doc); err != nil {
				return err
			}
			continue
		}

		actorID := doc.Slots[game.CurrentTurn]
		actor := playerByID(actorID)
		roll, outcome, err := s.clients[actorID].Roll(ctx, roomID, actor)
		if err != nil {
			return err
		}
		s.logger.Info("turn roll",
			zap.String("player", actor.Username),
			zap.Int("roll", roll),
			zap.Bool("mapped", outcome.Mapped),
		)
	}
	return fmt.Errorf("match did not finish within %d steps", maxSteps)
}

// respond resolves a pending attack from the defender's side.
func (s *simulation) respond(ctx context.Context, roomID string, doc room.Document) error {
	game := doc.Game
	defenderSlot := game.Defender()
	defenderID := doc.Slots[defenderSlot]
	defender := playerByID(defenderID)
	inventory := game.Player(defenderSlot).DefenseInventory

	for _, kind := range catalog.DefenseKinds {
		if inventory.Count(kind) > 0 {
			res, err := s.clients[defenderID].UseDefense(ctx, roomID, defender, kind)
			if err != nil {
				// Another actor resolved the attack first.
				if errors.Is(err, battle.ErrNoPendingAttack) {
					return nil
				}
				return err
			}
			s.logger.Info("defense used",
				zap.String("player", defender.Username),
				zap.String("defense", string(kind)),
				zap.Int("damageToDefender", res.DamageToDefender),
				zap.Int("damageToAttacker", res.DamageToAttacker),
			)
			return nil
		}
	}

	// No charges banked: the defender's watcher auto-skips. Wait for the
	// attack to clear rather than racing it.
	attackID := game.LastAttack.ID
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, _, err := s.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if current.Game.LastAttack == nil || current.Game.LastAttack.ID != attackID {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return errors.New("pending attack was never auto-skipped")
}

func playerByID(id int64) identity.Identity {
	for _, p := range simPlayers {
		if p.ID == id {
			return p
		}
	}
	return identity.Identity{ID: id}
}

func drainViews(views <-chan match.View) {
	for range views {
	}
}
