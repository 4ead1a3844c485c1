package rating

import (
	"errors"
	"fmt"
	"math"

	"github.com/castlelight/chess-rating/internal/domain"
)

const (
	// DefaultRating seeds every newly registered player.
	DefaultRating = 1200
	// MinRating and MaxRating bound every persisted rating.
	MinRating = 100
	MaxRating = 3000

	// Below this many rated games a rating is provisional and moves fast.
	provisionalGameCount = 30
	// Above this many rated games the rating is considered settled.
	experiencedGameCount = 100

	kFactorNew         = 40
	kFactorDefault     = 20
	kFactorExperienced = 10
)

var ErrInvalidResult = errors.New("rating: result is not a terminal outcome")

// Change is the outcome of one rating calculation. Deltas are measured
// against the clamped new ratings, so a player pinned at the floor or
// ceiling reports the clamped movement, not the raw arithmetic.
type Change struct {
	WhiteNewRating int
	BlackNewRating int
	WhiteDelta     int
	BlackDelta     int
}

// Calculate computes both sides' post-game ratings for a terminal result.
// It is a pure function of its inputs: K-factor from each side's own game
// count, logistic expected score, round to nearest with math.Round (ties
// away from zero), then clamp into [MinRating, MaxRating].
func Calculate(whiteRating, blackRating, whiteGamesPlayed, blackGamesPlayed int, result domain.Result) (Change, error) {
	if !result.Terminal() {
		return Change{}, fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}

	whiteExpected := expectedScore(float64(whiteRating), float64(blackRating))
	blackExpected := 1 - whiteExpected

	whiteNew := newRating(whiteRating, whiteGamesPlayed, result.Score(domain.ColorWhite), whiteExpected)
	blackNew := newRating(blackRating, blackGamesPlayed, result.Score(domain.ColorBlack), blackExpected)

	return Change{
		WhiteNewRating: whiteNew,
		BlackNewRating: blackNew,
		WhiteDelta:     whiteNew - whiteRating,
		BlackDelta:     blackNew - blackRating,
	}, nil
}

func newRating(rating, gamesPlayed int, actual, expected float64) int {
	k := kFactor(gamesPlayed)
	raw := int(math.Round(float64(rating) + k*(actual-expected)))
	return clampRating(raw)
}

// kFactor picks the volatility for a single side from its own experience.
func kFactor(gamesPlayed int) float64 {
	switch {
	case gamesPlayed < provisionalGameCount:
		return kFactorNew
	case gamesPlayed > experiencedGameCount:
		return kFactorExperienced
	default:
		return kFactorDefault
	}
}

// expectedScore is the standard logistic expectation; the two sides'
// expectations always sum to 1.
func expectedScore(rating, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-rating)/400))
}

func clampRating(r int) int {
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return r
}

// Provisional reports whether a rating built on this many games is still
// considered unreliable.
func Provisional(gamesPlayed int) bool {
	return gamesPlayed < provisionalGameCount
}
