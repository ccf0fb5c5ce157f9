package gamelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GameRow is a games row as the spectator UI sees it.
type GameRow struct {
	GameID         string
	URL            string
	BotColor       string
	OpponentName   string
	OpponentRating int
	OpponentIsBot  bool
	TimeControl    string
	Speed          string
	Mode           string
	Provenance     string
	Status         string
	Result         string
	Termination    string
	StartedAt      time.Time
	FinishedAt     *time.Time
	MovesUCI       []string
	OpeningECO     string
	OpeningName    string
}

// MoveEvalRow is one move_evals row. Nil pointers are NULL columns.
type MoveEvalRow struct {
	ID       int64
	GameID   string
	Ply      int
	MoveUCI  string
	MoveSAN  string
	EvalCP   *int
	EvalMate *int
	Depth    *int
	PV       string
	Nodes    *int64
	NPS      *int64
	TimeMs   *int64
	Source   string
	ClockMs  *int64
}

// LiveGame is a live_state row joined with its games row.
type LiveGame struct {
	LiveSnapshot
	OpponentName string
	BotColor     string
	Speed        string
	StartedAt    time.Time
}

// Reader runs read-only queries. Reads use autocommit and may observe writes landing
// between statements.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Reader returns a spectator reader sharing the store's connection pool.
func (s *Store) Reader() *Reader {
	return NewReader(s.DB())
}

const gameColumns = `
	game_id, lichess_url, bot_color, opponent_name, opponent_rating, opponent_is_bot,
	time_control, speed, mode, provenance, status, result, termination,
	started_at, finished_at, moves_uci, opening_eco, opening_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*GameRow, error) {
	var (
		g                                      GameRow
		url, color, oppName, tc, speed, mode   sql.NullString
		prov, status, result, term             sql.NullString
		started, finished, moves, eco, ecoName sql.NullString
		rating, isBot                          sql.NullInt64
	)
	if err := row.Scan(
		&g.GameID, &url, &color, &oppName, &rating, &isBot,
		&tc, &speed, &mode, &prov, &status, &result, &term,
		&started, &finished, &moves, &eco, &ecoName,
	); err != nil {
		return nil, err
	}
	g.URL = url.String
	g.BotColor = color.String
	g.OpponentName = oppName.String
	g.OpponentRating = int(rating.Int64)
	g.OpponentIsBot = isBot.Int64 != 0
	g.TimeControl = tc.String
	g.Speed = speed.String
	g.Mode = mode.String
	g.Provenance = prov.String
	g.Status = status.String
	g.Result = result.String
	g.Termination = term.String
	g.StartedAt = parseTime(started.String)
	if finished.Valid {
		t := parseTime(finished.String)
		g.FinishedAt = &t
	}
	g.MovesUCI = strings.Fields(moves.String)
	g.OpeningECO = eco.String
	g.OpeningName = ecoName.String
	return &g, nil
}

// GameRecord returns the games row for id, or nil when absent.
func (r *Reader) GameRecord(ctx context.Context, id string) (*GameRow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE game_id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return g, nil
}

// RecentGames lists games by start time, newest first. An empty status lists all.
func (r *Reader) RecentGames(ctx context.Context, status string, limit int) ([]*GameRow, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + gameColumns + ` FROM games`
	var args []any
	if strings.TrimSpace(status) != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	games := make([]*GameRow, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

// MoveEvals returns the evaluation log of a game in replay order.
func (r *Reader) MoveEvals(ctx context.Context, id string) ([]MoveEvalRow, error) {
	const query = `
		SELECT id, game_id, ply, move_uci, move_san, eval_cp, eval_mate, depth, pv,
			nodes, nps, time_ms, source, clock_ms
		FROM move_evals
		WHERE game_id = ?
		ORDER BY ply, id`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("select move evals: %w", err)
	}
	defer rows.Close()

	var out []MoveEvalRow
	for rows.Next() {
		var (
			m                           MoveEvalRow
			uci, san, pv, source        sql.NullString
			cp, mate, depth             sql.NullInt64
			nodes, nps, timeMs, clockMs sql.NullInt64
		)
		if err := rows.Scan(
			&m.ID, &m.GameID, &m.Ply, &uci, &san, &cp, &mate, &depth, &pv,
			&nodes, &nps, &timeMs, &source, &clockMs,
		); err != nil {
			return nil, fmt.Errorf("scan move eval: %w", err)
		}
		m.MoveUCI = uci.String
		m.MoveSAN = san.String
		m.PV = pv.String
		m.Source = source.String
		m.EvalCP = nullInt(cp)
		m.EvalMate = nullInt(mate)
		m.Depth = nullInt(depth)
		m.Nodes = nullInt64(nodes)
		m.NPS = nullInt64(nps)
		m.TimeMs = nullInt64(timeMs)
		m.ClockMs = nullInt64(clockMs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate move evals: %w", err)
	}
	return out, nil
}

// LiveGames lists games currently in live_state, oldest first.
func (r *Reader) LiveGames(ctx context.Context) ([]LiveGame, error) {
	const query = `
		SELECT l.game_id, l.fen, l.last_move_uci, l.moves_uci, l.wtime_ms, l.btime_ms,
			g.opponent_name, g.bot_color, g.speed, g.started_at
		FROM live_state l
		LEFT JOIN games g ON g.game_id = l.game_id
		ORDER BY g.started_at, l.game_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select live games: %w", err)
	}
	defer rows.Close()

	var out []LiveGame
	for rows.Next() {
		var (
			lg                         LiveGame
			fen, last, moves           sql.NullString
			opp, color, speed, started sql.NullString
			wtime, btime               sql.NullInt64
		)
		if err := rows.Scan(&lg.GameID, &fen, &last, &moves, &wtime, &btime, &opp, &color, &speed, &started); err != nil {
			return nil, fmt.Errorf("scan live game: %w", err)
		}
		lg.FEN = fen.String
		lg.LastMoveUCI = last.String
		lg.MovesUCI = strings.Fields(moves.String)
		lg.WTimeMs = wtime.Int64
		lg.BTimeMs = btime.Int64
		lg.OpponentName = opp.String
		lg.BotColor = color.String
		lg.Speed = speed.String
		lg.StartedAt = parseTime(started.String)
		out = append(out, lg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate live games: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	// rows written by older writers carry no zone offset
	if t, err := time.Parse("2006-01-02T15:04:05.999999", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
