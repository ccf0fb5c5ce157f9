package gamelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
)

// guard is the failure boundary of every lifecycle operation: errors and panics are logged
// with the operation and game id, never returned.
func (s *Store) guard(op, gameID string, fn func() error) {
	logger := s.log()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("gamelog_panic",
				zap.String("op", op),
				zap.String("game_id", gameID),
				zap.Any("panic", r),
			)
		}
	}()
	if s == nil || s.db == nil {
		logger.Warn("gamelog_store_unavailable", zap.String("op", op), zap.String("game_id", gameID))
		return
	}
	if err := fn(); err != nil {
		logger.Error("gamelog_op_failed",
			zap.String("op", op),
			zap.String("game_id", gameID),
			zap.Error(err),
		)
	}
}

// GameStarted records a new game and its initial live state. An existing row for the same
// id is replaced.
func (s *Store) GameStarted(ctx context.Context, g *Game, provenance string) {
	s.guard("game_started", g.gameID(), func() error {
		return s.gameStarted(ctx, g, provenance)
	})
}

func (s *Store) gameStarted(ctx context.Context, g *Game, provenance string) error {
	id := g.gameID()
	if id == "" {
		return ErrInvalidGame
	}
	clockMs := g.InitialClock.Milliseconds()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const insertGame = `
			INSERT OR REPLACE INTO games (
				game_id, lichess_url, bot_color, opponent_name, opponent_rating,
				opponent_is_bot, time_control, speed, mode, provenance,
				status, result, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertGame,
			id,
			g.URL,
			strings.ToLower(string(g.Color)),
			g.Opponent.Name,
			g.Opponent.Rating,
			boolToInt(g.Opponent.IsBot),
			g.TimeControl,
			g.Speed,
			g.Mode,
			provenance,
			StatusPlaying,
			ResultPending,
			formatTime(g.StartedAt),
		); err != nil {
			return fmt.Errorf("insert game: %w", err)
		}

		const insertLive = `
			INSERT OR REPLACE INTO live_state (
				game_id, fen, last_move_uci, moves_uci, wtime_ms, btime_ms
			) VALUES (?, ?, NULL, '', ?, ?)`
		if _, err := tx.ExecContext(ctx, insertLive, id, StartingFEN, clockMs, clockMs); err != nil {
			return fmt.Errorf("insert live state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("gamelog_game_started", zap.String("game_id", id), zap.String("provenance", provenance))
	s.publishLive(ctx, LiveSnapshot{
		GameID:    id,
		FEN:       StartingFEN,
		MovesUCI:  []string{},
		WTimeMs:   clockMs,
		BTimeMs:   clockMs,
		UpdatedAt: s.now().UTC(),
	})
	return nil
}

// MovePlayed appends one move_evals row for a bot move. board must already contain move
// as its last move; eval may be nil.
func (s *Store) MovePlayed(ctx context.Context, g *Game, board *nchess.Game, move *nchess.Move, eval *Evaluation, source string) {
	s.guard("move_played", g.gameID(), func() error {
		return s.movePlayed(ctx, g, board, move, eval, source)
	})
}

func (s *Store) movePlayed(ctx context.Context, g *Game, board *nchess.Game, move *nchess.Move, eval *Evaluation, source string) error {
	id := g.gameID()
	if id == "" {
		return ErrInvalidGame
	}
	if board == nil || move == nil {
		return ErrNilBoard
	}
	moves := board.Moves()
	if len(moves) == 0 {
		return ErrNoMoveHistory
	}
	ply := len(moves) - 1
	last := moves[ply]
	if last.String() != move.String() {
		return fmt.Errorf("%w: board=%s move=%s", ErrMoveMismatch, last.String(), move.String())
	}
	positions := board.Positions()
	if ply >= len(positions) {
		return fmt.Errorf("%w: no position before ply %d", ErrNoMoveHistory, ply)
	}
	san := nchess.AlgebraicNotation{}.Encode(positions[ply], last)
	cols := eval.columns()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO move_evals (
				game_id, ply, move_uci, move_san, eval_cp, eval_mate,
				depth, pv, nodes, nps, time_ms, source, clock_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			id, ply, last.String(), san, cols.cp, cols.mate,
			cols.depth, cols.pv, cols.nodes, cols.nps, cols.timeMs, source, g.BotClock().Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert move eval: %w", err)
		}
		return nil
	})
}

// UpdateLiveState overwrites the live row with the board's current position and clocks.
// Call it after every ply, whichever side moved.
func (s *Store) UpdateLiveState(ctx context.Context, g *Game, board *nchess.Game) {
	s.guard("update_live_state", g.gameID(), func() error {
		return s.updateLiveState(ctx, g, board)
	})
}

func (s *Store) updateLiveState(ctx context.Context, g *Game, board *nchess.Game) error {
	id := g.gameID()
	if id == "" {
		return ErrInvalidGame
	}
	if board == nil {
		return ErrNilBoard
	}
	uci := movesUCI(board)
	var last any
	lastStr := ""
	if n := len(uci); n > 0 {
		lastStr = uci[n-1]
		last = lastStr
	}
	snap := LiveSnapshot{
		GameID:      id,
		FEN:         board.FEN(),
		LastMoveUCI: lastStr,
		MovesUCI:    uci,
		WTimeMs:     g.State.WTime.Milliseconds(),
		BTimeMs:     g.State.BTime.Milliseconds(),
		UpdatedAt:   s.now().UTC(),
	}
	var updated int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
			UPDATE live_state
			SET fen = ?, last_move_uci = ?, moves_uci = ?, wtime_ms = ?, btime_ms = ?
			WHERE game_id = ?`
		res, err := tx.ExecContext(ctx, q,
			snap.FEN, last, strings.Join(uci, " "), snap.WTimeMs, snap.BTimeMs, id,
		)
		if err != nil {
			return fmt.Errorf("update live state: %w", err)
		}
		if updated, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("update live state rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if updated == 0 {
		s.logger.Debug("gamelog_live_state_missing", zap.String("game_id", id))
		return nil
	}
	s.publishLive(ctx, snap)
	return nil
}

// GameFinished closes the game record, copying the live move list into games before the
// live row is deleted. A game that was never started affects no rows.
func (s *Store) GameFinished(ctx context.Context, g *Game) {
	s.guard("game_finished", g.gameID(), func() error {
		return s.gameFinished(ctx, g)
	})
}

func (s *Store) gameFinished(ctx context.Context, g *Game) error {
	id := g.gameID()
	if id == "" {
		return ErrInvalidGame
	}
	result := g.Result()
	termination := strings.TrimSpace(g.State.Status)
	finishedAt := s.now().UTC()

	var (
		moves   sql.NullString
		hadLive bool
		updated int64
		eco     string
		name    string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT moves_uci FROM live_state WHERE game_id = ?`, id).Scan(&moves)
		switch {
		case err == nil:
			hadLive = true
			eco, name = classifyOpening(moves.String)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("select live moves: %w", err)
		}

		// a repeated finish has no live row; keep what the first one stored
		const q = `
			UPDATE games
			SET status = ?, result = ?, termination = ?, finished_at = ?,
				moves_uci = COALESCE(?, moves_uci),
				opening_eco = COALESCE(?, opening_eco),
				opening_name = COALESCE(?, opening_name)
			WHERE game_id = ?`
		res, err := tx.ExecContext(ctx, q,
			StatusFinished, result, nullIfEmpty(termination), formatTime(finishedAt), moves,
			nullIfEmpty(eco), nullIfEmpty(name), id,
		)
		if err != nil {
			return fmt.Errorf("update game: %w", err)
		}
		if updated, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("update game rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM live_state WHERE game_id = ?`, id); err != nil {
			return fmt.Errorf("delete live state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("gamelog_game_finished",
		zap.String("game_id", id),
		zap.String("result", result),
		zap.String("termination", termination),
		zap.Int64("rows", updated),
		zap.Bool("had_live", hadLive),
	)
	if updated == 0 || !hadLive {
		return nil
	}
	s.afterFinish(ctx, FinishedGame{
		GameID:         id,
		URL:            g.URL,
		BotColor:       g.Color,
		OpponentName:   g.Opponent.Name,
		OpponentRating: g.Opponent.Rating,
		OpponentIsBot:  g.Opponent.IsBot,
		TimeControl:    g.TimeControl,
		Speed:          g.Speed,
		Mode:           g.Mode,
		Result:         result,
		Termination:    termination,
		MovesUCI:       strings.Fields(moves.String),
		OpeningECO:     eco,
		OpeningName:    name,
		StartedAt:      g.StartedAt,
		FinishedAt:     finishedAt,
	})
	return nil
}

func movesUCI(board *nchess.Game) []string {
	moves := board.Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mv.String())
	}
	return out
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
