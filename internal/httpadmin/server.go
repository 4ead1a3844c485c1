// Package httpadmin exposes a small read-only HTTP surface for operators:
// health, rating lookups, history, and the leaderboard. It is not a public
// API and carries no auth of its own.
package httpadmin

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/castlelight/chess-rating/internal/leaderboard"
	"github.com/castlelight/chess-rating/internal/rating"
)

const defaultLeaderboardLimit = 10

type Server struct {
	svc    *rating.Service
	board  *leaderboard.Leaderboard
	logger *zap.Logger
	srv    *fasthttp.Server
}

func New(svc *rating.Service, board *leaderboard.Leaderboard, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, board: board, logger: logger}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "rating-admin",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "GET only")
		return
	}
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == "/leaderboard":
		s.handleLeaderboard(ctx)
	case strings.HasPrefix(path, "/players/"):
		s.handlePlayer(ctx, strings.TrimPrefix(path, "/players/"))
	default:
		writeError(ctx, fasthttp.StatusNotFound, "unknown path")
	}
}

func (s *Server) handlePlayer(ctx *fasthttp.RequestCtx, rest string) {
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(ctx, fasthttp.StatusNotFound, "unknown path")
		return
	}
	playerID := parts[0]
	switch parts[1] {
	case "rating":
		s.handleRating(ctx, playerID)
	case "history":
		s.handleHistory(ctx, playerID)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "unknown path")
	}
}

func (s *Server) handleRating(ctx *fasthttp.RequestCtx, playerID string) {
	player, err := s.svc.Profile(ctx, playerID)
	if errors.Is(err, rating.ErrPlayerNotFound) {
		writeError(ctx, fasthttp.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		s.logger.Error("admin rating lookup failed", zap.Error(err), zap.String("player_id", playerID))
		writeError(ctx, fasthttp.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"player_id":    player.ID,
		"rating":       player.Rating,
		"games_played": player.GamesPlayed,
		"wins":         player.Wins,
		"losses":       player.Losses,
		"draws":        player.Draws,
		"provisional":  rating.Provisional(player.GamesPlayed),
	})
}

func (s *Server) handleHistory(ctx *fasthttp.RequestCtx, playerID string) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	points, err := s.svc.RatingHistory(ctx, playerID, limit)
	switch {
	case errors.Is(err, rating.ErrPlayerNotFound):
		writeError(ctx, fasthttp.StatusNotFound, "player not found")
		return
	case errors.Is(err, rating.ErrInsufficientHistory):
		writeError(ctx, fasthttp.StatusNotFound, "insufficient history")
		return
	case err != nil:
		s.logger.Error("admin history lookup failed", zap.Error(err), zap.String("player_id", playerID))
		writeError(ctx, fasthttp.StatusInternalServerError, "lookup failed")
		return
	}
	type point struct {
		Timestamp time.Time `json:"timestamp"`
		Rating    int       `json:"rating"`
	}
	out := make([]point, 0, len(points))
	for _, p := range points {
		out = append(out, point{Timestamp: p.Timestamp, Rating: p.Rating})
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"player_id": playerID, "points": out})
}

func (s *Server) handleLeaderboard(ctx *fasthttp.RequestCtx) {
	if s.board == nil {
		writeError(ctx, fasthttp.StatusNotFound, "leaderboard disabled")
		return
	}
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	entries, err := s.board.Top(ctx, limit)
	if err != nil {
		s.logger.Error("admin leaderboard lookup failed", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	_ = json.NewEncoder(ctx).Encode(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}
