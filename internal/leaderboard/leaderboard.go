// Package leaderboard keeps a Redis sorted set of current ratings so rank
// queries never hit the relational store.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "rating:leaderboard"

var ErrNotRanked = errors.New("leaderboard: player not ranked")

type Entry struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
	Rank     int    `json:"rank"`
}

type Leaderboard struct {
	rdb *redis.Client
	key string
}

func New(rdb *redis.Client) *Leaderboard {
	return &Leaderboard{rdb: rdb, key: defaultKey}
}

// Update records a player's current rating. Called after every rating
// apply; last write wins.
func (l *Leaderboard) Update(ctx context.Context, playerID string, rating int) error {
	err := l.rdb.ZAdd(ctx, l.key, redis.Z{Score: float64(rating), Member: playerID}).Err()
	if err != nil {
		return fmt.Errorf("leaderboard update %s: %w", playerID, err)
	}
	return nil
}

func (l *Leaderboard) Remove(ctx context.Context, playerID string) error {
	if err := l.rdb.ZRem(ctx, l.key, playerID).Err(); err != nil {
		return fmt.Errorf("leaderboard remove %s: %w", playerID, err)
	}
	return nil
}

// Rank returns the player's 1-based position, best rating first.
func (l *Leaderboard) Rank(ctx context.Context, playerID string) (int, error) {
	rank, err := l.rdb.ZRevRank(ctx, l.key, playerID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotRanked
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard rank %s: %w", playerID, err)
	}
	return int(rank) + 1, nil
}

// Top returns the n best-rated players in order.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	members, err := l.rdb.ZRevRangeWithScores(ctx, l.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	return entriesFrom(members, 0), nil
}

// Around returns the players ranked near the given player, radius entries
// to each side.
func (l *Leaderboard) Around(ctx context.Context, playerID string, radius int) ([]Entry, error) {
	rank, err := l.rdb.ZRevRank(ctx, l.key, playerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotRanked
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard around %s: %w", playerID, err)
	}
	start := rank - int64(radius)
	if start < 0 {
		start = 0
	}
	members, err := l.rdb.ZRevRangeWithScores(ctx, l.key, start, rank+int64(radius)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard around %s: %w", playerID, err)
	}
	return entriesFrom(members, int(start)), nil
}

func entriesFrom(members []redis.Z, firstRank int) []Entry {
	out := make([]Entry, 0, len(members))
	for i, z := range members {
		id, _ := z.Member.(string)
		out = append(out, Entry{
			PlayerID: id,
			Rating:   int(z.Score),
			Rank:     firstRank + i + 1,
		})
	}
	return out
}
