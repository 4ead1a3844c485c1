package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/castlelight/chess-rating/internal/domain"
)

var (
	ErrDuplicateGame = errors.New("rating: game already exists")
	// ErrAlreadyApplied means another writer recorded this game's rating
	// deltas first; the caller should treat the game as processed.
	ErrAlreadyApplied = errors.New("rating: game rating already applied")
	// ErrStaleRating means a player's rating moved between read and write.
	// The caller may reload the players and retry the apply.
	ErrStaleRating = errors.New("rating: player rating changed concurrently")
)

// PlayerRatingUpdate is one side of an atomic rating apply. ExpectedRating
// is an optimistic-concurrency check against the value the calculation was
// based on.
type PlayerRatingUpdate struct {
	PlayerID       string
	ExpectedRating int
	NewRating      int
	Delta          int
	Wins           int
	Losses         int
	Draws          int
}

// RatingApply groups everything the store must persist for one rated game:
// both players' new ratings and counters, and the game's signed deltas.
// Implementations must apply it as a single transaction or fail whole.
type RatingApply struct {
	GameID string
	White  PlayerRatingUpdate
	Black  PlayerRatingUpdate
}

// Repository is the persistence contract the rating engine requires. Any
// store satisfying it works; see memrepo for the in-memory variant used in
// tests and PostgresRepository for the production one.
type Repository interface {
	CreatePlayer(ctx context.Context, displayName string) (*domain.PlayerRecord, error)
	GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error)
	InsertGame(ctx context.Context, game *domain.GameRecord) error
	GetGame(ctx context.Context, id string) (*domain.GameRecord, error)
	ApplyGameRating(ctx context.Context, apply *RatingApply) error
	// ListRatedGames returns up to limit completed rated games the player
	// took part in, most recent first, with the delta applied to that
	// player. Games without recorded deltas are excluded.
	ListRatedGames(ctx context.Context, playerID string, limit int) ([]*domain.RatedGameSummary, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Migrate creates the rating tables when they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS players (
			id            TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL,
			rating        INTEGER NOT NULL,
			games_played  INTEGER NOT NULL DEFAULT 0,
			wins          INTEGER NOT NULL DEFAULT 0,
			losses        INTEGER NOT NULL DEFAULT 0,
			draws         INTEGER NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS games (
			id                  TEXT PRIMARY KEY,
			white_id            TEXT NOT NULL REFERENCES players(id),
			black_id            TEXT NOT NULL REFERENCES players(id),
			rated               BOOLEAN NOT NULL,
			status              TEXT NOT NULL,
			result              TEXT NOT NULL DEFAULT '*',
			white_rating_change INTEGER,
			black_rating_change INTEGER,
			started_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at        TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_games_white ON games (white_id, completed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_games_black ON games (black_id, completed_at DESC);`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate rating schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreatePlayer(ctx context.Context, displayName string) (*domain.PlayerRecord, error) {
	player := &domain.PlayerRecord{
		ID:          uuid.NewString(),
		DisplayName: strings.TrimSpace(displayName),
		Rating:      DefaultRating,
	}
	const query = `
		INSERT INTO players (id, display_name, rating)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, player.ID, player.DisplayName, player.Rating).
		Scan(&player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert player: %w", err)
	}
	return player, nil
}

func (r *PostgresRepository) GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error) {
	const query = `
		SELECT id, display_name, rating, games_played, wins, losses, draws, created_at, updated_at
		FROM players
		WHERE id = $1`
	var p domain.PlayerRecord
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.Rating,
		&p.GamesPlayed,
		&p.Wins,
		&p.Losses,
		&p.Draws,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select player: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) InsertGame(ctx context.Context, game *domain.GameRecord) error {
	if game == nil {
		return fmt.Errorf("nil game record")
	}
	if game.ID == "" {
		game.ID = uuid.NewString()
	}
	if _, err := domain.ParseResult(string(game.Result)); err != nil {
		return fmt.Errorf("game %s: %w", game.ID, err)
	}
	const query = `
		INSERT INTO games (id, white_id, black_id, rated, status, result, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		game.ID,
		game.WhiteID,
		game.BlackID,
		game.Rated,
		string(game.Status),
		string(game.Result),
		game.StartedAt,
		nullableTime(game.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateGame
	}
	return nil
}

func (r *PostgresRepository) GetGame(ctx context.Context, id string) (*domain.GameRecord, error) {
	const query = `
		SELECT id, white_id, black_id, rated, status, result,
			white_rating_change, black_rating_change, started_at, completed_at
		FROM games
		WHERE id = $1`
	var (
		g           domain.GameRecord
		status      string
		result      string
		whiteChange sql.NullInt64
		blackChange sql.NullInt64
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.WhiteID,
		&g.BlackID,
		&g.Rated,
		&status,
		&result,
		&whiteChange,
		&blackChange,
		&g.StartedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	g.Status = domain.GameStatus(status)
	g.Result, err = domain.ParseResult(result)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", g.ID, err)
	}
	if whiteChange.Valid {
		v := int(whiteChange.Int64)
		g.WhiteRatingChange = &v
	}
	if blackChange.Valid {
		v := int(blackChange.Int64)
		g.BlackRatingChange = &v
	}
	if completedAt.Valid {
		g.CompletedAt = completedAt.Time
	}
	return &g, nil
}

// ApplyGameRating persists both player updates and the game deltas in one
// transaction. The game update is conditional on the change fields still
// being NULL and each player update on the rating the calculation saw, so
// a concurrent apply surfaces as ErrAlreadyApplied or ErrStaleRating with
// the transaction rolled back.
func (r *PostgresRepository) ApplyGameRating(ctx context.Context, apply *RatingApply) error {
	if apply == nil {
		return fmt.Errorf("nil rating apply")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rating apply: %w", err)
	}
	defer tx.Rollback()

	const markGame = `
		UPDATE games
		SET white_rating_change = $2, black_rating_change = $3
		WHERE id = $1 AND white_rating_change IS NULL AND black_rating_change IS NULL`
	res, err := tx.ExecContext(ctx, markGame, apply.GameID, apply.White.Delta, apply.Black.Delta)
	if err != nil {
		return fmt.Errorf("mark game rated: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyApplied
	}

	for _, u := range []PlayerRatingUpdate{apply.White, apply.Black} {
		const updatePlayer = `
			UPDATE players
			SET rating = $2,
				games_played = games_played + 1,
				wins = wins + $3,
				losses = losses + $4,
				draws = draws + $5,
				updated_at = NOW()
			WHERE id = $1 AND rating = $6`
		res, err := tx.ExecContext(ctx, updatePlayer,
			u.PlayerID, u.NewRating, u.Wins, u.Losses, u.Draws, u.ExpectedRating)
		if err != nil {
			return fmt.Errorf("update player %s: %w", u.PlayerID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("player %s: %w", u.PlayerID, ErrStaleRating)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rating apply: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRatedGames(ctx context.Context, playerID string, limit int) ([]*domain.RatedGameSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, white_id, black_id, result, white_rating_change, black_rating_change, completed_at
		FROM games
		WHERE rated
			AND status = 'completed'
			AND white_rating_change IS NOT NULL
			AND black_rating_change IS NOT NULL
			AND (white_id = $1 OR black_id = $1)
		ORDER BY completed_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select rated games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.RatedGameSummary, 0, limit)
	for rows.Next() {
		var (
			id, whiteID, blackID, result string
			whiteChange, blackChange     int
			completedAt                  time.Time
		)
		if err := rows.Scan(&id, &whiteID, &blackID, &result, &whiteChange, &blackChange, &completedAt); err != nil {
			return nil, fmt.Errorf("scan rated game: %w", err)
		}
		parsed, err := domain.ParseResult(result)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", id, err)
		}
		summary := &domain.RatedGameSummary{
			GameID:      id,
			Result:      parsed,
			CompletedAt: completedAt,
		}
		if whiteID == playerID {
			summary.Color = domain.ColorWhite
			summary.OpponentID = blackID
			summary.RatingDelta = whiteChange
		} else {
			summary.Color = domain.ColorBlack
			summary.OpponentID = whiteID
			summary.RatingDelta = blackChange
		}
		games = append(games, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rated games: %w", err)
	}
	return games, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
