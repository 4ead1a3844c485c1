package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castlelight/chess-rating/internal/domain"
	"github.com/castlelight/chess-rating/internal/leaderboard"
	"github.com/castlelight/chess-rating/internal/service/cache"
)

var (
	ErrGameNotFound   = errors.New("rating: game not found")
	ErrPlayerNotFound = errors.New("rating: player not found")
	ErrGameNotRated   = errors.New("rating: game is not rated")
	ErrGameNotDone    = errors.New("rating: game is not completed")
	ErrResultMissing  = errors.New("rating: game has no terminal result")
	// ErrInsufficientHistory is a normal outcome, not a failure: the player
	// has fewer than two rated games, so there is no trend to plot.
	ErrInsufficientHistory = errors.New("rating: not enough rated games for a history")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	profileCacheTTL     = 6 * time.Hour

	// How often an apply is retried when a player's rating moved under us
	// (two of their games resolving at once).
	staleRetryLimit = 3
)

type Config struct {
	HistoryLimit    int
	ProfileCacheTTL time.Duration
}

// Service orchestrates rating updates and history reconstruction over a
// player/game store. The cache and leaderboard are optional accelerators;
// the store remains the source of truth.
type Service struct {
	repo   Repository
	cache  *cache.Service
	board  *leaderboard.Leaderboard
	cfg    Config
	logger *zap.Logger
}

func NewService(repo Repository, cacheSvc *cache.Service, board *leaderboard.Leaderboard, cfg Config, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("rating repository is required")
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = profileCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		cache:  cacheSvc,
		board:  board,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// PlayerRatingResult is one side of a processed game.
type PlayerRatingResult struct {
	PlayerID string
	Rating   int
	Delta    int
}

// GameRatingSummary reports what a rating apply did. AlreadyApplied is set
// when the game had been processed before and nothing was recomputed.
type GameRatingSummary struct {
	GameID         string
	White          PlayerRatingResult
	Black          PlayerRatingResult
	AlreadyApplied bool
}

// RegisterPlayer creates a player record with the default rating and zero
// counters.
func (s *Service) RegisterPlayer(ctx context.Context, displayName string) (*domain.PlayerRecord, error) {
	player, err := s.repo.CreatePlayer(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("register player: %w", err)
	}
	s.cachePlayer(ctx, player)
	return player, nil
}

// Profile returns a player record, preferring the cache.
func (s *Service) Profile(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	return s.fetchPlayer(ctx, playerID, true)
}

// UpdateRatingsForGame transitions both players of a completed rated game
// to their post-game ratings, exactly once. Calling it again for the same
// game is a no-op reported through AlreadyApplied.
func (s *Service) UpdateRatingsForGame(ctx context.Context, gameID string) (*GameRatingSummary, error) {
	game, err := s.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	if game == nil {
		return nil, fmt.Errorf("game %s: %w", gameID, ErrGameNotFound)
	}
	if err := validateForRating(game); err != nil {
		return nil, err
	}
	if game.RatingApplied() {
		return s.recordedSummary(ctx, game)
	}

	for attempt := 1; attempt <= staleRetryLimit; attempt++ {
		white, err := s.fetchPlayer(ctx, game.WhiteID, false)
		if err != nil {
			return nil, fmt.Errorf("game %s white: %w", gameID, err)
		}
		black, err := s.fetchPlayer(ctx, game.BlackID, false)
		if err != nil {
			return nil, fmt.Errorf("game %s black: %w", gameID, err)
		}

		change, err := Calculate(white.Rating, black.Rating, white.GamesPlayed, black.GamesPlayed, game.Result)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", gameID, err)
		}

		apply := &RatingApply{
			GameID: game.ID,
			White:  playerUpdate(white, change.WhiteNewRating, change.WhiteDelta, game.Result, domain.ColorWhite),
			Black:  playerUpdate(black, change.BlackNewRating, change.BlackDelta, game.Result, domain.ColorBlack),
		}
		err = s.repo.ApplyGameRating(ctx, apply)
		if errors.Is(err, ErrStaleRating) {
			s.logger.Warn("player rating moved during apply, retrying",
				zap.String("game_id", game.ID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if errors.Is(err, ErrAlreadyApplied) {
			// Another writer beat us to this game; report its outcome.
			reloaded, loadErr := s.repo.GetGame(ctx, gameID)
			if loadErr != nil || reloaded == nil || !reloaded.RatingApplied() {
				return nil, fmt.Errorf("game %s applied concurrently but unreadable: %w", gameID, err)
			}
			return s.recordedSummary(ctx, reloaded)
		}
		if err != nil {
			return nil, fmt.Errorf("apply ratings for game %s: %w", gameID, err)
		}

		s.afterApply(ctx, game.WhiteID, change.WhiteNewRating)
		s.afterApply(ctx, game.BlackID, change.BlackNewRating)

		s.logger.Info("ratings applied",
			zap.String("game_id", game.ID),
			zap.String("result", string(game.Result)),
			zap.Int("white_rating", change.WhiteNewRating),
			zap.Int("white_delta", change.WhiteDelta),
			zap.Int("black_rating", change.BlackNewRating),
			zap.Int("black_delta", change.BlackDelta),
		)

		return &GameRatingSummary{
			GameID: game.ID,
			White:  PlayerRatingResult{PlayerID: game.WhiteID, Rating: change.WhiteNewRating, Delta: change.WhiteDelta},
			Black:  PlayerRatingResult{PlayerID: game.BlackID, Rating: change.BlackNewRating, Delta: change.BlackDelta},
		}, nil
	}
	return nil, fmt.Errorf("game %s: %w after %d attempts", gameID, ErrStaleRating, staleRetryLimit)
}

// RatingHistory reconstructs a chronological rating series for a player by
// replaying persisted per-game deltas backwards from the live rating. The
// final point always equals the player's current rating, anchored at the
// newest game's completion time so identical inputs reproduce the same
// series.
func (s *Service) RatingHistory(ctx context.Context, playerID string, limit int) ([]domain.RatingHistoryPoint, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	player, err := s.fetchPlayer(ctx, playerID, true)
	if err != nil {
		return nil, err
	}
	games, err := s.repo.ListRatedGames(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rated games for %s: %w", playerID, err)
	}
	if len(games) < 2 {
		return nil, fmt.Errorf("player %s: %w", playerID, ErrInsufficientHistory)
	}

	points := make([]domain.RatingHistoryPoint, len(games)+1)
	points[len(games)] = domain.RatingHistoryPoint{Timestamp: games[0].CompletedAt, Rating: player.Rating}
	rating := player.Rating
	for i, g := range games { // games are newest first
		rating -= g.RatingDelta
		points[len(games)-1-i] = domain.RatingHistoryPoint{Timestamp: g.CompletedAt, Rating: rating}
	}
	return points, nil
}

// IsProvisional reports whether the player's rating still rests on fewer
// than 30 rated games.
func (s *Service) IsProvisional(ctx context.Context, playerID string) (bool, error) {
	player, err := s.fetchPlayer(ctx, playerID, true)
	if err != nil {
		return false, err
	}
	return Provisional(player.GamesPlayed), nil
}

func validateForRating(game *domain.GameRecord) error {
	switch {
	case !game.Rated:
		return fmt.Errorf("game %s: %w", game.ID, ErrGameNotRated)
	case game.Status != domain.GameStatusCompleted:
		return fmt.Errorf("game %s (status %s): %w", game.ID, game.Status, ErrGameNotDone)
	case !game.Result.Terminal():
		return fmt.Errorf("game %s (result %q): %w", game.ID, game.Result, ErrResultMissing)
	default:
		return nil
	}
}

func playerUpdate(p *domain.PlayerRecord, newRating, delta int, result domain.Result, color domain.Color) PlayerRatingUpdate {
	u := PlayerRatingUpdate{
		PlayerID:       p.ID,
		ExpectedRating: p.Rating,
		NewRating:      newRating,
		Delta:          delta,
	}
	switch result.Score(color) {
	case 1:
		u.Wins = 1
	case 0:
		u.Losses = 1
	default:
		u.Draws = 1
	}
	return u
}

func (s *Service) recordedSummary(ctx context.Context, game *domain.GameRecord) (*GameRatingSummary, error) {
	summary := &GameRatingSummary{
		GameID:         game.ID,
		White:          PlayerRatingResult{PlayerID: game.WhiteID, Delta: *game.WhiteRatingChange},
		Black:          PlayerRatingResult{PlayerID: game.BlackID, Delta: *game.BlackRatingChange},
		AlreadyApplied: true,
	}
	if white, err := s.fetchPlayer(ctx, game.WhiteID, true); err == nil {
		summary.White.Rating = white.Rating
	}
	if black, err := s.fetchPlayer(ctx, game.BlackID, true); err == nil {
		summary.Black.Rating = black.Rating
	}
	return summary, nil
}

// afterApply refreshes the accelerators. Failures here never fail the
// update: the store already committed.
func (s *Service) afterApply(ctx context.Context, playerID string, rating int) {
	if s.board != nil {
		if err := s.board.Update(ctx, playerID, rating); err != nil {
			s.logger.Warn("leaderboard update failed", zap.Error(err), zap.String("player_id", playerID))
		}
	}
	player, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil || player == nil {
		s.logger.Warn("profile refresh after apply failed", zap.Error(err), zap.String("player_id", playerID))
		return
	}
	s.cachePlayer(ctx, player)
}

func (s *Service) fetchPlayer(ctx context.Context, playerID string, allowCache bool) (*domain.PlayerRecord, error) {
	if allowCache && s.cache != nil {
		player := &domain.PlayerRecord{}
		found, err := s.cache.Get(ctx, profileCacheKey(playerID), player)
		if err != nil {
			s.logger.Warn("profile cache read failed", zap.Error(err), zap.String("player_id", playerID))
		} else if found {
			return player, nil
		}
	}

	player, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}
	if player == nil {
		return nil, fmt.Errorf("player %s: %w", playerID, ErrPlayerNotFound)
	}
	if allowCache {
		s.cachePlayer(ctx, player)
	}
	return player, nil
}

func (s *Service) cachePlayer(ctx context.Context, player *domain.PlayerRecord) {
	if s.cache == nil || player == nil {
		return
	}
	if err := s.cache.Set(ctx, profileCacheKey(player.ID), player, s.cfg.ProfileCacheTTL); err != nil {
		s.logger.Warn("profile cache write failed", zap.Error(err), zap.String("player_id", player.ID))
	}
}

func profileCacheKey(playerID string) string {
	return "rating:profile:" + playerID
}
