package domain

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Color is the side a player held in a game.
type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Result is a game result in standard notation. Only the three terminal
// values count toward ratings; "*" marks a game still in progress.
type Result string

const (
	ResultWhiteWins Result = "1-0"
	ResultBlackWins Result = "0-1"
	ResultDraw      Result = "1/2-1/2"
	ResultOngoing   Result = "*"
)

// ParseResult normalizes a raw result string against the standard outcome
// notation. Unknown strings map to ResultOngoing with an error.
func ParseResult(raw string) (Result, error) {
	switch nchess.Outcome(strings.TrimSpace(raw)) {
	case nchess.WhiteWon:
		return ResultWhiteWins, nil
	case nchess.BlackWon:
		return ResultBlackWins, nil
	case nchess.Draw:
		return ResultDraw, nil
	case nchess.NoOutcome, "":
		return ResultOngoing, nil
	default:
		return ResultOngoing, fmt.Errorf("unrecognized game result %q", raw)
	}
}

// Terminal reports whether the result counts as a finished game.
func (r Result) Terminal() bool {
	switch r {
	case ResultWhiteWins, ResultBlackWins, ResultDraw:
		return true
	default:
		return false
	}
}

// Score returns the actual score for the given side: win 1, loss 0, draw 0.5.
func (r Result) Score(c Color) float64 {
	switch r {
	case ResultWhiteWins:
		if c == ColorWhite {
			return 1
		}
		return 0
	case ResultBlackWins:
		if c == ColorBlack {
			return 1
		}
		return 0
	case ResultDraw:
		return 0.5
	default:
		return 0
	}
}

type GameStatus string

const (
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
	GameStatusAborted   GameStatus = "aborted"
)

// PlayerRecord is the persisted rating profile of one player. Counters are
// mutated only by the rating updater; unrated games never touch them.
type PlayerRecord struct {
	ID          string
	DisplayName string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Draws       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GameRecord carries the rating-relevant slice of a game row. The
// rating-change fields stay nil until the updater applies the game, and are
// written exactly once.
type GameRecord struct {
	ID                string
	WhiteID           string
	BlackID           string
	Rated             bool
	Status            GameStatus
	Result            Result
	WhiteRatingChange *int
	BlackRatingChange *int
	StartedAt         time.Time
	CompletedAt       time.Time
}

// RatingApplied reports whether this game's rating deltas were already
// recorded. Once true the game must never be recalculated.
func (g *GameRecord) RatingApplied() bool {
	return g != nil && g.WhiteRatingChange != nil && g.BlackRatingChange != nil
}

// ColorOf returns which side the given player held in this game.
func (g *GameRecord) ColorOf(playerID string) (Color, bool) {
	switch {
	case g == nil:
		return "", false
	case g.WhiteID == playerID:
		return ColorWhite, true
	case g.BlackID == playerID:
		return ColorBlack, true
	default:
		return "", false
	}
}

// RatedGameSummary is one completed rated game seen from a single player's
// perspective, as returned by the store's history listing.
type RatedGameSummary struct {
	GameID      string
	OpponentID  string
	Color       Color
	Result      Result
	RatingDelta int
	CompletedAt time.Time
}

// RatingHistoryPoint is one plot point of a reconstructed rating series.
type RatingHistoryPoint struct {
	Timestamp time.Time
	Rating    int
}
