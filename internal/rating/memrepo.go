package rating

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castlelight/chess-rating/internal/domain"
)

// memrepo is an in-memory Repository used in tests and when no database is
// configured. It enforces the same conditional-write semantics as the
// Postgres implementation.
type memrepo struct {
	mu sync.Mutex

	players map[string]*domain.PlayerRecord
	games   map[string]*domain.GameRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{
		players: make(map[string]*domain.PlayerRecord),
		games:   make(map[string]*domain.GameRecord),
	}
}

func (m *memrepo) CreatePlayer(ctx context.Context, displayName string) (*domain.PlayerRecord, error) {
	now := time.Now()
	player := &domain.PlayerRecord{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Rating:      DefaultRating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	m.players[player.ID] = player
	m.mu.Unlock()
	copy := *player
	return &copy, nil
}

func (m *memrepo) GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (m *memrepo) InsertGame(ctx context.Context, game *domain.GameRecord) error {
	if game == nil {
		return fmt.Errorf("nil game record")
	}
	if game.ID == "" {
		game.ID = uuid.NewString()
	}
	if _, err := domain.ParseResult(string(game.Result)); err != nil {
		return fmt.Errorf("game %s: %w", game.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[game.ID]; exists {
		return ErrDuplicateGame
	}
	copy := *game
	m.games[game.ID] = &copy
	return nil
}

func (m *memrepo) GetGame(ctx context.Context, id string) (*domain.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	copy := *g
	return &copy, nil
}

func (m *memrepo) ApplyGameRating(ctx context.Context, apply *RatingApply) error {
	if apply == nil {
		return fmt.Errorf("nil rating apply")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[apply.GameID]
	if !ok {
		return fmt.Errorf("game %s not found", apply.GameID)
	}
	if game.RatingApplied() {
		return ErrAlreadyApplied
	}
	for _, u := range []PlayerRatingUpdate{apply.White, apply.Black} {
		p, ok := m.players[u.PlayerID]
		if !ok {
			return fmt.Errorf("player %s not found", u.PlayerID)
		}
		if p.Rating != u.ExpectedRating {
			return fmt.Errorf("player %s: %w", u.PlayerID, ErrStaleRating)
		}
	}

	now := time.Now()
	for _, u := range []PlayerRatingUpdate{apply.White, apply.Black} {
		p := m.players[u.PlayerID]
		p.Rating = u.NewRating
		p.GamesPlayed++
		p.Wins += u.Wins
		p.Losses += u.Losses
		p.Draws += u.Draws
		p.UpdatedAt = now
	}
	whiteDelta, blackDelta := apply.White.Delta, apply.Black.Delta
	game.WhiteRatingChange = &whiteDelta
	game.BlackRatingChange = &blackDelta
	return nil
}

func (m *memrepo) ListRatedGames(ctx context.Context, playerID string, limit int) ([]*domain.RatedGameSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := make([]*domain.GameRecord, 0)
	for _, g := range m.games {
		if !g.Rated || g.Status != domain.GameStatusCompleted || !g.RatingApplied() {
			continue
		}
		if g.WhiteID != playerID && g.BlackID != playerID {
			continue
		}
		matches = append(matches, g)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CompletedAt.Equal(matches[j].CompletedAt) {
			return matches[i].CompletedAt.After(matches[j].CompletedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*domain.RatedGameSummary, 0, len(matches))
	for _, g := range matches {
		summary := &domain.RatedGameSummary{
			GameID:      g.ID,
			Result:      g.Result,
			CompletedAt: g.CompletedAt,
		}
		if g.WhiteID == playerID {
			summary.Color = domain.ColorWhite
			summary.OpponentID = g.BlackID
			summary.RatingDelta = *g.WhiteRatingChange
		} else {
			summary.Color = domain.ColorBlack
			summary.OpponentID = g.WhiteID
			summary.RatingDelta = *g.BlackRatingChange
		}
		out = append(out, summary)
	}
	return out, nil
}
