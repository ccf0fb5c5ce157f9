// Package archive copies finished bot games into a PostgreSQL archive.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	_ "github.com/lib/pq"

	"github.com/park285/chess-gamelog/internal/gamelog"
)

const defaultBotName = "Bot"

type Repository struct {
	db      *sql.DB
	botName string
}

var _ gamelog.Archiver = (*Repository)(nil)

func NewRepository(databaseURL, botName string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &Repository{db: db, botName: strings.TrimSpace(botName)}
	if r.botName == "" {
		r.botName = defaultBotName
	}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const createBotGamesSQL = `CREATE TABLE IF NOT EXISTS bot_games (
	game_id TEXT PRIMARY KEY,
	lichess_url TEXT,
	bot_color TEXT,
	opponent_name TEXT,
	opponent_rating INTEGER,
	opponent_is_bot BOOLEAN,
	time_control TEXT,
	speed TEXT,
	mode TEXT,
	result TEXT,
	termination TEXT,
	opening_eco TEXT,
	opening_name TEXT,
	moves_uci JSONB,
	moves_san JSONB,
	pgn TEXT,
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	duration_ms BIGINT
)`

func (r *Repository) ensureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBotGamesSQL); err != nil {
		return fmt.Errorf("create bot_games: %w", err)
	}
	return nil
}

// upsertBotGameSQL takes its arguments in the order upsertArgs builds them.
const upsertBotGameSQL = `INSERT INTO bot_games (
	game_id, lichess_url, bot_color, opponent_name, opponent_rating, opponent_is_bot,
	time_control, speed, mode, result, termination, opening_eco, opening_name,
	moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
) ON CONFLICT (game_id) DO UPDATE SET
	lichess_url=EXCLUDED.lichess_url,
	bot_color=EXCLUDED.bot_color,
	opponent_name=EXCLUDED.opponent_name,
	opponent_rating=EXCLUDED.opponent_rating,
	opponent_is_bot=EXCLUDED.opponent_is_bot,
	time_control=EXCLUDED.time_control,
	speed=EXCLUDED.speed,
	mode=EXCLUDED.mode,
	result=EXCLUDED.result,
	termination=EXCLUDED.termination,
	opening_eco=EXCLUDED.opening_eco,
	opening_name=EXCLUDED.opening_name,
	moves_uci=EXCLUDED.moves_uci,
	moves_san=EXCLUDED.moves_san,
	pgn=EXCLUDED.pgn,
	started_at=EXCLUDED.started_at,
	ended_at=EXCLUDED.ended_at,
	duration_ms=EXCLUDED.duration_ms`

// SaveResult upserts a finished game.
func (r *Repository) SaveResult(ctx context.Context, g gamelog.FinishedGame) error {
	if r == nil || r.db == nil || strings.TrimSpace(g.GameID) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, upsertBotGameSQL, upsertArgs(g, r.botName)...); err != nil {
		return fmt.Errorf("upsert bot game: %w", err)
	}
	return nil
}

func upsertArgs(g gamelog.FinishedGame, botName string) []any {
	san := sanMoves(g.MovesUCI)
	movesUCIRaw, _ := json.Marshal(nonNil(g.MovesUCI))
	movesSANRaw, _ := json.Marshal(nonNil(san))
	duration := g.FinishedAt.Sub(g.StartedAt).Milliseconds()
	if g.StartedAt.IsZero() || duration < 0 {
		duration = 0
	}
	return []any{
		g.GameID, g.URL, string(g.BotColor), g.OpponentName, g.OpponentRating, g.OpponentIsBot,
		g.TimeControl, g.Speed, g.Mode, g.Result, g.Termination, g.OpeningECO, g.OpeningName,
		string(movesUCIRaw), string(movesSANRaw), buildPGN(g, san, botName),
		nullTime(g.StartedAt), nullTime(g.FinishedAt), duration,
	}
}

// sanMoves replays UCI moves from the start position. Replay stops at the first move that
// does not apply.
func sanMoves(uci []string) []string {
	game := nchess.NewGame()
	out := make([]string, 0, len(uci))
	for _, raw := range uci {
		pos := game.Position()
		if err := game.PushNotationMove(strings.ToLower(strings.TrimSpace(raw)), nchess.UCINotation{}, nil); err != nil {
			break
		}
		moves := game.Moves()
		out = append(out, nchess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1]))
	}
	return out
}

func buildPGN(g gamelog.FinishedGame, san []string, botName string) string {
	var b strings.Builder
	date := g.StartedAt
	if date.IsZero() {
		date = g.FinishedAt
	}
	if date.IsZero() {
		date = time.Now()
	}
	white, black := botName, opponentLabel(g)
	if !strings.EqualFold(string(g.BotColor), string(gamelog.White)) {
		white, black = black, white
	}
	result := g.Result
	if result == "" {
		result = gamelog.ResultPending
	}

	b.WriteString("[Event \"Lichess bot game\"]\n")
	site := "lichess.org"
	if strings.TrimSpace(g.URL) != "" {
		site = g.URL
	}
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(site)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
	if strings.TrimSpace(g.TimeControl) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(g.TimeControl)))
	}
	if strings.TrimSpace(g.OpeningECO) != "" {
		b.WriteString(fmt.Sprintf("[ECO \"%s\"]\n", sanitizePGN(g.OpeningECO)))
	}
	if strings.TrimSpace(g.OpeningName) != "" {
		b.WriteString(fmt.Sprintf("[Opening \"%s\"]\n", sanitizePGN(g.OpeningName)))
	}
	if strings.TrimSpace(g.Termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(g.Termination))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(san); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(san[i+1])
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func opponentLabel(g gamelog.FinishedGame) string {
	name := strings.TrimSpace(g.OpponentName)
	if name == "" {
		name = "Anonymous"
	}
	if g.OpponentIsBot {
		name += " (BOT)"
	}
	return name
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
