package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-gamelog/internal/archive"
	"github.com/park285/chess-gamelog/internal/chess/uci"
	appcfg "github.com/park285/chess-gamelog/internal/config"
	"github.com/park285/chess-gamelog/internal/gamelog"
	"github.com/park285/chess-gamelog/internal/livefeed"
	"github.com/park285/chess-gamelog/internal/obslog"
)

const usage = `usage: gamelog <command> [args]

commands:
  migrate              create or upgrade the game database
  live                 list games in progress
  recent [-status s] [-n N]
                       list recent games
  show <game-id>       print a game record and its move log
  replay <game-id>     replay the move log and check it against the final record
  archive <game-id>... copy finished games to PostgreSQL (needs DATABASE_URL)
  watch                follow live events from Redis (needs REDIS_URL)
  eval [-fen FEN]      read UCI engine output on stdin and print the stored evaluation
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "gamelog:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cleanup, err := obslog.Init(cfg.Log.Options())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "watch":
		return watch(ctx, cfg, out)
	case "eval":
		fs := flag.NewFlagSet("eval", flag.ContinueOnError)
		fen := fs.String("fen", gamelog.StartingFEN, "position the search ran on")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return evalStream(os.Stdin, *fen, out)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	reader := store.Reader()

	switch cmd {
	case "migrate":
		fmt.Fprintf(out, "database ready: %s\n", store.Path())
		return nil
	case "live":
		return printLive(ctx, reader, out)
	case "recent":
		fs := flag.NewFlagSet("recent", flag.ContinueOnError)
		status := fs.String("status", "", "filter by status (playing|finished)")
		limit := fs.Int("n", 20, "number of games")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return printRecent(ctx, reader, *status, *limit, out)
	case "show":
		id, err := gameIDArg(rest)
		if err != nil {
			return err
		}
		return printGame(ctx, reader, id, out)
	case "replay":
		id, err := gameIDArg(rest)
		if err != nil {
			return err
		}
		return replay(ctx, reader, id, out)
	case "archive":
		if len(rest) == 0 {
			return errors.New("game id required")
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for archive")
		}
		repo, err := archive.NewRepository(cfg.DatabaseURL, cfg.BotName)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer repo.Close()
		return archiveGames(ctx, reader, repo, rest, out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func gameIDArg(rest []string) (string, error) {
	if len(rest) == 0 || strings.TrimSpace(rest[0]) == "" {
		return "", errors.New("game id required")
	}
	return strings.TrimSpace(rest[0]), nil
}

func openStore(cfg *appcfg.AppConfig) (*gamelog.Store, error) {
	store, err := gamelog.Open(cfg.DBPath,
		gamelog.WithLogger(obslog.L()),
		gamelog.WithBusyTimeout(cfg.BusyTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func printLive(ctx context.Context, r *gamelog.Reader, out io.Writer) error {
	games, err := r.LiveGames(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintln(out, "no live games")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GAME\tBOT\tOPPONENT\tSPEED\tPLY\tLAST\tWHITE\tBLACK")
	for _, g := range games {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			g.GameID, g.BotColor, g.OpponentName, g.Speed, len(g.MovesUCI), dash(g.LastMoveUCI),
			clock(g.WTimeMs), clock(g.BTimeMs))
	}
	return tw.Flush()
}

func printRecent(ctx context.Context, r *gamelog.Reader, status string, limit int, out io.Writer) error {
	games, err := r.RecentGames(ctx, status, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GAME\tSTARTED\tBOT\tOPPONENT\tSTATUS\tRESULT\tTERMINATION\tECO")
	for _, g := range games {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s (%d)\t%s\t%s\t%s\t%s\n",
			g.GameID, g.StartedAt.Format(time.DateTime), g.BotColor, g.OpponentName, g.OpponentRating,
			g.Status, g.Result, dash(g.Termination), dash(g.OpeningECO))
	}
	return tw.Flush()
}

func printGame(ctx context.Context, r *gamelog.Reader, id string, out io.Writer) error {
	g, err := r.GameRecord(ctx, id)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("game %s not found", id)
	}
	fmt.Fprintf(out, "game:        %s\n", g.GameID)
	fmt.Fprintf(out, "url:         %s\n", dash(g.URL))
	fmt.Fprintf(out, "bot color:   %s\n", g.BotColor)
	fmt.Fprintf(out, "opponent:    %s (%d)%s\n", g.OpponentName, g.OpponentRating, botTag(g.OpponentIsBot))
	fmt.Fprintf(out, "control:     %s %s %s\n", g.TimeControl, g.Speed, g.Mode)
	fmt.Fprintf(out, "provenance:  %s\n", dash(g.Provenance))
	fmt.Fprintf(out, "status:      %s %s %s\n", g.Status, g.Result, g.Termination)
	if g.OpeningECO != "" {
		fmt.Fprintf(out, "opening:     %s %s\n", g.OpeningECO, g.OpeningName)
	}

	evals, err := r.MoveEvals(ctx, id)
	if err != nil {
		return err
	}
	if len(evals) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLY\tMOVE\tSAN\tEVAL\tDEPTH\tTIME\tCLOCK\tSOURCE")
	for _, m := range evals {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Ply, m.MoveUCI, m.MoveSAN, formatEval(m), optInt(m.Depth), optMs(m.TimeMs), optClock(m.ClockMs), m.Source)
	}
	return tw.Flush()
}

// replay applies the full move list and checks each logged bot move against the position
// it was played from.
func replay(ctx context.Context, r *gamelog.Reader, id string, out io.Writer) error {
	g, err := r.GameRecord(ctx, id)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("game %s not found", id)
	}
	evals, err := r.MoveEvals(ctx, id)
	if err != nil {
		return err
	}
	moves := g.MovesUCI
	if len(moves) == 0 {
		if live, err := r.LiveGames(ctx); err == nil {
			for _, lg := range live {
				if lg.GameID == id {
					moves = lg.MovesUCI
				}
			}
		}
	}

	byPly := make(map[int]gamelog.MoveEvalRow, len(evals))
	for _, m := range evals {
		byPly[m.Ply] = m
	}
	game := nchess.NewGame()
	mismatches := 0
	for ply, mv := range moves {
		pos := game.Position()
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return fmt.Errorf("ply %d: illegal move %s: %w", ply, mv, err)
		}
		played := game.Moves()[ply]
		san := nchess.AlgebraicNotation{}.Encode(pos, played)
		line := fmt.Sprintf("%3d. %-6s %-7s", ply, mv, san)
		if m, ok := byPly[ply]; ok {
			line += " " + formatEval(m)
			if m.MoveUCI != mv || m.MoveSAN != san {
				line += fmt.Sprintf("  MISMATCH logged %s/%s", m.MoveUCI, m.MoveSAN)
				mismatches++
			}
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(out, "final: %s\n", game.FEN())
	if mismatches > 0 {
		return fmt.Errorf("%d logged moves disagree with the move list", mismatches)
	}
	return nil
}

// archiveGames re-sends finished games to the archive, for games whose finish-time save
// failed or predates the archive.
func archiveGames(ctx context.Context, r *gamelog.Reader, a gamelog.Archiver, ids []string, out io.Writer) error {
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		row, err := r.GameRecord(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("game %s not found", id)
		}
		if row.Status != gamelog.StatusFinished {
			fmt.Fprintf(out, "skip %s: %s\n", id, row.Status)
			continue
		}
		if err := a.SaveResult(ctx, finishedFromRow(row)); err != nil {
			return fmt.Errorf("archive %s: %w", id, err)
		}
		fmt.Fprintf(out, "archived %s %s (%d moves)\n", id, row.Result, len(row.MovesUCI))
	}
	return nil
}

func finishedFromRow(row *gamelog.GameRow) gamelog.FinishedGame {
	fg := gamelog.FinishedGame{
		GameID:         row.GameID,
		URL:            row.URL,
		BotColor:       gamelog.Color(row.BotColor),
		OpponentName:   row.OpponentName,
		OpponentRating: row.OpponentRating,
		OpponentIsBot:  row.OpponentIsBot,
		TimeControl:    row.TimeControl,
		Speed:          row.Speed,
		Mode:           row.Mode,
		Result:         row.Result,
		Termination:    row.Termination,
		MovesUCI:       row.MovesUCI,
		OpeningECO:     row.OpeningECO,
		OpeningName:    row.OpeningName,
		StartedAt:      row.StartedAt,
	}
	if row.FinishedAt != nil {
		fg.FinishedAt = *row.FinishedAt
	}
	return fg
}

func watch(ctx context.Context, cfg *appcfg.AppConfig, out io.Writer) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for watch")
	}
	pub, err := livefeed.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer pub.Close()

	sub := pub.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := livefeed.DecodeEvent(msg.Payload)
			if err != nil {
				obslog.L().Warn("gamelog_watch_decode_failed", zap.Error(err))
				continue
			}
			switch ev.Type {
			case livefeed.EventLive:
				last := ""
				if ev.Live != nil {
					last = ev.Live.LastMoveUCI
				}
				fmt.Fprintf(out, "%s live %s %s\n", ev.At.Format(time.TimeOnly), ev.GameID, dash(last))
			case livefeed.EventFinished:
				fmt.Fprintf(out, "%s done %s %s %s\n", ev.At.Format(time.TimeOnly), ev.GameID, ev.Result, ev.Reason)
			}
		}
	}
}

// evalStream prints the primary line of one search in the form MovePlayed stores it.
func evalStream(in io.Reader, fen string, out io.Writer) error {
	c := uci.NewCollector(uci.SideToMove(fen))
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if c.Feed(sc.Text()) {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read engine output: %w", err)
	}
	e := c.Evaluation()
	if e == nil {
		return errors.New("no evaluation in engine output")
	}
	row := gamelog.MoveEvalRow{MoveUCI: c.BestMove(), Depth: e.Depth, Nodes: e.Nodes, NPS: e.NPS, PV: e.PV}
	if e.Score != nil {
		w := e.Score.White()
		if w.IsMate {
			row.EvalMate = &w.Mate
		} else {
			row.EvalCP = &w.CP
		}
	}
	if e.Time != nil {
		ms := e.Time.Milliseconds()
		row.TimeMs = &ms
	}
	fmt.Fprintf(out, "best:  %s\n", dash(row.MoveUCI))
	fmt.Fprintf(out, "eval:  %s (white)\n", formatEval(row))
	fmt.Fprintf(out, "depth: %s\n", optInt(row.Depth))
	fmt.Fprintf(out, "time:  %s\n", optMs(row.TimeMs))
	fmt.Fprintf(out, "pv:    %s\n", dash(row.PV))
	return nil
}

func formatEval(m gamelog.MoveEvalRow) string {
	switch {
	case m.EvalMate != nil:
		return fmt.Sprintf("#%d", *m.EvalMate)
	case m.EvalCP != nil:
		return fmt.Sprintf("%+.2f", float64(*m.EvalCP)/100)
	default:
		return "-"
	}
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func optMs(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *v)
}

func optClock(v *int64) string {
	if v == nil {
		return "-"
	}
	return clock(*v)
}

func clock(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func botTag(isBot bool) string {
	if isBot {
		return " BOT"
	}
	return ""
}
