package gamelog

import (
	"strings"
	"time"
)

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Game status values stored in games.status.
const (
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

// Result tokens.
const (
	ResultWhiteWins = "1-0"
	ResultBlackWins = "0-1"
	ResultDraw      = "1/2-1/2"
	ResultPending   = "*"
)

// Provenance tags describing how a game was acquired.
const (
	ProvenanceMatchmaking       = "matchmaking"
	ProvenanceIncomingChallenge = "incoming_challenge"
)

// Evaluation source tags.
const (
	SourceSearch = "search"
	SourceBook   = "book"
)

// Player describes the opponent.
type Player struct {
	Name   string
	Rating int
	IsBot  bool
}

// State is the live bundle reported by the game host. Clocks are remaining time.
type State struct {
	WTime  time.Duration
	BTime  time.Duration
	Winner Color
	Status string
}

// Game is the descriptor of one game the bot plays.
type Game struct {
	ID           string
	URL          string
	Color        Color
	Opponent     Player
	TimeControl  string
	Speed        string
	Mode         string
	StartedAt    time.Time
	InitialClock time.Duration
	State        State
}

func (g *Game) IsWhite() bool {
	return strings.EqualFold(string(g.Color), string(White))
}

// BotClock returns the bot's remaining time.
func (g *Game) BotClock() time.Duration {
	if g.IsWhite() {
		return g.State.WTime
	}
	return g.State.BTime
}

// Result maps the final state to a result token. A game without a winner is a draw
// unless its status shows it never reached a decision.
func (g *Game) Result() string {
	switch Color(strings.ToLower(strings.TrimSpace(string(g.State.Winner)))) {
	case White:
		return ResultWhiteWins
	case Black:
		return ResultBlackWins
	}
	switch strings.TrimSpace(g.State.Status) {
	case "", "created", "started", "aborted", "noStart":
		return ResultPending
	default:
		return ResultDraw
	}
}

func (g *Game) gameID() string {
	if g == nil {
		return ""
	}
	return strings.TrimSpace(g.ID)
}

// LiveSnapshot is the state written to live_state on every ply.
type LiveSnapshot struct {
	GameID      string    `json:"game_id"`
	FEN         string    `json:"fen"`
	LastMoveUCI string    `json:"last_move_uci,omitempty"`
	MovesUCI    []string  `json:"moves_uci"`
	WTimeMs     int64     `json:"wtime_ms"`
	BTimeMs     int64     `json:"btime_ms"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FinishedGame is the final record handed to finish hooks.
type FinishedGame struct {
	GameID         string
	URL            string
	BotColor       Color
	OpponentName   string
	OpponentRating int
	OpponentIsBot  bool
	TimeControl    string
	Speed          string
	Mode           string
	Result         string
	Termination    string
	MovesUCI       []string
	OpeningECO     string
	OpeningName    string
	StartedAt      time.Time
	FinishedAt     time.Time
}
