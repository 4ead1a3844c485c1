package rating

import (
	"errors"
	"math"
	"testing"

	"github.com/castlelight/chess-rating/internal/domain"
)

func TestExpectedScoreSumsToOne(t *testing.T) {
	pairs := [][2]int{{1200, 1200}, {1400, 1000}, {100, 3000}, {2450, 2455}, {800, 1799}}
	for _, p := range pairs {
		a := expectedScore(float64(p[0]), float64(p[1]))
		b := expectedScore(float64(p[1]), float64(p[0]))
		if math.Abs(a+b-1) > 1e-9 {
			t.Fatalf("expectations for %v do not sum to 1: %f + %f", p, a, b)
		}
	}
}

func TestDrawBetweenEqualRatingsIsNeutral(t *testing.T) {
	ch, err := Calculate(1500, 1500, 40, 40, domain.ResultDraw)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if ch.WhiteDelta != 0 || ch.BlackDelta != 0 {
		t.Fatalf("equal-rating draw moved ratings: %+v", ch)
	}
}

func TestWinnerGainsLoserLoses(t *testing.T) {
	cases := []struct {
		white, black int
		result       domain.Result
	}{
		{1200, 1200, domain.ResultWhiteWins},
		{1000, 1600, domain.ResultWhiteWins},
		{1600, 1000, domain.ResultBlackWins},
		{2200, 2190, domain.ResultBlackWins},
	}
	for _, c := range cases {
		ch, err := Calculate(c.white, c.black, 50, 50, c.result)
		if err != nil {
			t.Fatalf("Calculate(%+v): %v", c, err)
		}
		if c.result == domain.ResultWhiteWins {
			if ch.WhiteDelta < 0 || ch.BlackDelta > 0 {
				t.Fatalf("white win moved ratings the wrong way: %+v", ch)
			}
		} else {
			if ch.BlackDelta < 0 || ch.WhiteDelta > 0 {
				t.Fatalf("black win moved ratings the wrong way: %+v", ch)
			}
		}
	}
}

func TestKFactorTierBoundaries(t *testing.T) {
	// Equal ratings make the expected score exactly 0.5, so a win is
	// worth K/2 and the tier shows up directly in the delta.
	cases := []struct {
		gamesPlayed int
		wantDelta   int
	}{
		{0, 20},
		{29, 20},
		{30, 10},
		{100, 10},
		{101, 5},
	}
	for _, c := range cases {
		ch, err := Calculate(1400, 1400, c.gamesPlayed, 50, domain.ResultWhiteWins)
		if err != nil {
			t.Fatalf("Calculate(games=%d): %v", c.gamesPlayed, err)
		}
		if ch.WhiteDelta != c.wantDelta {
			t.Fatalf("games=%d: white delta = %d, want %d", c.gamesPlayed, ch.WhiteDelta, c.wantDelta)
		}
	}
}

func TestEvenMatchWhiteWin(t *testing.T) {
	ch, err := Calculate(1400, 1400, 50, 50, domain.ResultWhiteWins)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	want := Change{WhiteNewRating: 1410, BlackNewRating: 1390, WhiteDelta: 10, BlackDelta: -10}
	if ch != want {
		t.Fatalf("got %+v, want %+v", ch, want)
	}
}

func TestFloorClampLimitsReportedDelta(t *testing.T) {
	// White at 105 with K=40 loses near the floor: the raw step (-20)
	// would land at 85, so the persisted rating is the floor and the
	// reported delta is -5, not the raw arithmetic.
	ch, err := Calculate(105, 100, 10, 50, domain.ResultBlackWins)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if ch.WhiteNewRating != MinRating {
		t.Fatalf("white rating = %d, want floor %d", ch.WhiteNewRating, MinRating)
	}
	if ch.WhiteDelta != -5 {
		t.Fatalf("white delta = %d, want -5 (clamped)", ch.WhiteDelta)
	}
	if ch.BlackNewRating != 110 || ch.BlackDelta != 10 {
		t.Fatalf("black side unexpected: %+v", ch)
	}
}

func TestFloorClampCanZeroTheDelta(t *testing.T) {
	ch, err := Calculate(100, 100, 10, 50, domain.ResultBlackWins)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if ch.WhiteNewRating != MinRating || ch.WhiteDelta != 0 {
		t.Fatalf("loser at the floor should not move: %+v", ch)
	}
}

func TestCeilingClamp(t *testing.T) {
	ch, err := Calculate(2999, 2999, 10, 200, domain.ResultWhiteWins)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if ch.WhiteNewRating != MaxRating || ch.WhiteDelta != 1 {
		t.Fatalf("winner should stop at the ceiling: %+v", ch)
	}
	if ch.BlackDelta != -5 {
		t.Fatalf("black delta = %d, want -5", ch.BlackDelta)
	}
}

func TestNonTerminalResultRejected(t *testing.T) {
	for _, r := range []domain.Result{domain.ResultOngoing, domain.Result(""), domain.Result("abandoned")} {
		if _, err := Calculate(1200, 1200, 0, 0, r); !errors.Is(err, ErrInvalidResult) {
			t.Fatalf("result %q: err = %v, want ErrInvalidResult", r, err)
		}
	}
}

func TestProvisionalBoundary(t *testing.T) {
	if !Provisional(29) {
		t.Fatalf("29 games should still be provisional")
	}
	if Provisional(30) {
		t.Fatalf("30 games should no longer be provisional")
	}
}
