package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-gamelog/internal/gamelog"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.db")
	store, err := gamelog.Open(path, gamelog.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	g := &gamelog.Game{
		ID:           "cli_game",
		Color:        gamelog.White,
		Opponent:     gamelog.Player{Name: "TestOpponent", Rating: 1500},
		TimeControl:  "180+2",
		Speed:        "blitz",
		Mode:         "rated",
		StartedAt:    time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
		InitialClock: 3 * time.Minute,
		State:        gamelog.State{WTime: 3 * time.Minute, BTime: 3 * time.Minute},
	}
	store.GameStarted(ctx, g, gamelog.ProvenanceMatchmaking)
	board := nchess.NewGame()
	for i, mv := range []string{"e2e4", "e7e5", "g1f3"} {
		if err := board.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			t.Fatalf("push %s: %v", mv, err)
		}
		if i%2 == 0 {
			moves := board.Moves()
			store.MovePlayed(ctx, g, board, moves[len(moves)-1], &gamelog.Evaluation{Score: gamelog.Centipawns(gamelog.White, 35)}, gamelog.SourceSearch)
		}
		store.UpdateLiveState(ctx, g, board)
	}
	return path
}

func setEnv(t *testing.T, dbPath string) {
	t.Helper()
	t.Setenv("GAMELOG_DB_PATH", dbPath)
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func TestRunLiveAndShow(t *testing.T) {
	setEnv(t, seedDB(t))

	var out bytes.Buffer
	if err := run([]string{"live"}, &out); err != nil {
		t.Fatalf("live: %v", err)
	}
	if !strings.Contains(out.String(), "cli_game") || !strings.Contains(out.String(), "g1f3") {
		t.Fatalf("unexpected live output:\n%s", out.String())
	}

	out.Reset()
	if err := run([]string{"show", "cli_game"}, &out); err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"TestOpponent (1500)", "Nf3", "+0.35"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("show output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunReplay(t *testing.T) {
	setEnv(t, seedDB(t))

	var out bytes.Buffer
	if err := run([]string{"replay", "cli_game"}, &out); err != nil {
		t.Fatalf("replay: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "final: ") || strings.Contains(out.String(), "MISMATCH") {
		t.Fatalf("unexpected replay output:\n%s", out.String())
	}
}

func TestRunErrors(t *testing.T) {
	setEnv(t, seedDB(t))

	var out bytes.Buffer
	if err := run(nil, &out); err == nil {
		t.Fatal("expected error without command")
	}
	if err := run([]string{"show"}, &out); err == nil {
		t.Fatal("expected error without game id")
	}
	if err := run([]string{"show", "missing"}, &out); err == nil {
		t.Fatal("expected not found error")
	}
	if err := run([]string{"bogus"}, &out); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestReaderCommandsIgnoreMirrors(t *testing.T) {
	setEnv(t, seedDB(t))
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")
	t.Setenv("DATABASE_URL", "postgres://u:p@127.0.0.1:1/bot?sslmode=disable")

	var out bytes.Buffer
	for _, args := range [][]string{{"live"}, {"recent"}, {"show", "cli_game"}, {"replay", "cli_game"}} {
		out.Reset()
		if err := run(args, &out); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
}

type recordingArchiver struct {
	saved []gamelog.FinishedGame
}

func (r *recordingArchiver) SaveResult(_ context.Context, g gamelog.FinishedGame) error {
	r.saved = append(r.saved, g)
	return nil
}

func TestArchiveGamesSendsFinishedOnly(t *testing.T) {
	path := seedDB(t)
	store, err := gamelog.Open(path, gamelog.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	store.GameStarted(ctx, &gamelog.Game{ID: "still_playing", Color: gamelog.Black}, gamelog.ProvenanceIncomingChallenge)
	store.GameFinished(ctx, &gamelog.Game{ID: "cli_game", State: gamelog.State{Winner: gamelog.White, Status: "mate"}})

	rec := &recordingArchiver{}
	var out bytes.Buffer
	if err := archiveGames(ctx, store.Reader(), rec, []string{"cli_game", "still_playing"}, &out); err != nil {
		t.Fatalf("archiveGames: %v", err)
	}
	if len(rec.saved) != 1 {
		t.Fatalf("saved %d games, want 1", len(rec.saved))
	}
	fg := rec.saved[0]
	if fg.GameID != "cli_game" || fg.Result != gamelog.ResultWhiteWins || fg.BotColor != gamelog.White {
		t.Fatalf("unexpected archived game: %+v", fg)
	}
	if strings.Join(fg.MovesUCI, " ") != "e2e4 e7e5 g1f3" || fg.FinishedAt.IsZero() {
		t.Fatalf("unexpected moves or finish time: %+v", fg)
	}
	if !strings.Contains(out.String(), "skip still_playing: playing") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	if err := archiveGames(ctx, store.Reader(), rec, []string{"missing"}, &out); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestArchiveRequiresDatabaseURL(t *testing.T) {
	setEnv(t, seedDB(t))
	t.Setenv("DATABASE_URL", "")

	var out bytes.Buffer
	if err := run([]string{"archive", "cli_game"}, &out); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestClockFormat(t *testing.T) {
	if got := clock(175000); got != "2:55" {
		t.Fatalf("clock = %q", got)
	}
}

func TestEvalStreamNormalizesToWhite(t *testing.T) {
	engine := strings.Join([]string{
		"info string NNUE evaluation enabled",
		"info depth 10 multipv 1 score cp 42 nodes 12000 nps 600000 time 20 pv e7e5 g1f3",
		"info depth 11 multipv 1 score cp 48 nodes 30000 nps 600000 time 50 pv e7e5 g1f3 b8c6",
		"bestmove e7e5 ponder g1f3",
	}, "\n")
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"

	var out bytes.Buffer
	if err := evalStream(strings.NewReader(engine), fen, &out); err != nil {
		t.Fatalf("evalStream: %v", err)
	}
	for _, want := range []string{"best:  e7e5", "eval:  -0.48 (white)", "depth: 11", "time:  50ms", "pv:    e7e5 g1f3 b8c6"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := evalStream(strings.NewReader("bestmove e2e4\n"), gamelog.StartingFEN, &out); err == nil {
		t.Fatal("expected error without info lines")
	}
}
