package rating

import (
	"context"
	"errors"
	"testing"

	"github.com/castlelight/chess-rating/internal/domain"
)

func TestInsertGameValidatesResultNotation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, r := range []domain.Result{
		domain.ResultWhiteWins,
		domain.ResultBlackWins,
		domain.ResultDraw,
		domain.ResultOngoing,
		domain.Result(""),
	} {
		game := &domain.GameRecord{WhiteID: "w", BlackID: "b", Rated: true, Status: domain.GameStatusActive, Result: r}
		if err := repo.InsertGame(ctx, game); err != nil {
			t.Fatalf("result %q rejected: %v", r, err)
		}
	}

	for _, r := range []domain.Result{"2-0", "abandoned", "w"} {
		game := &domain.GameRecord{WhiteID: "w", BlackID: "b", Rated: true, Status: domain.GameStatusActive, Result: r}
		if err := repo.InsertGame(ctx, game); err == nil {
			t.Fatalf("result %q accepted", r)
		}
		if g, _ := repo.GetGame(ctx, game.ID); g != nil {
			t.Fatalf("rejected game %q was stored", r)
		}
	}
}

func TestInsertGameRejectsDuplicateID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	game := &domain.GameRecord{WhiteID: "w", BlackID: "b", Rated: true, Status: domain.GameStatusActive, Result: domain.ResultOngoing}
	if err := repo.InsertGame(ctx, game); err != nil {
		t.Fatalf("InsertGame: %v", err)
	}
	dup := &domain.GameRecord{ID: game.ID, WhiteID: "w", BlackID: "b", Rated: true, Status: domain.GameStatusActive, Result: domain.ResultOngoing}
	if err := repo.InsertGame(ctx, dup); !errors.Is(err, ErrDuplicateGame) {
		t.Fatalf("duplicate insert: err = %v, want ErrDuplicateGame", err)
	}
}
