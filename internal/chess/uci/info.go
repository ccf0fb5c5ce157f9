// Package uci reads engine search output into game log evaluations.
package uci

import (
	"sort"
	"strconv"
	"strings"

	"github.com/park285/chess-gamelog/internal/gamelog"
)

// Info is one parsed "info" line.
type Info struct {
	MultiPV   int
	Eval      *gamelog.Evaluation
	Principal []string
}

// ParseInfo parses a UCI info line. Scores are reported by engines from the side to move,
// so sideToMove sets the score's point of view. Lines without a score or pv (currmove,
// string, hashfull updates) are rejected.
func ParseInfo(line string, sideToMove gamelog.Color) (Info, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return Info{}, false
	}
	var (
		info  = Info{MultiPV: 1}
		eval  gamelog.Evaluation
		found bool
		pvIdx = -1
	)

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			i = len(parts)
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v > 0 {
					info.MultiPV = v
				}
				i++
			}
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					eval.Depth = gamelog.IntPtr(v)
				}
				i++
			}
		case "nodes", "nps", "time":
			if i+1 < len(parts) {
				if v, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
					switch parts[i] {
					case "nodes":
						eval.Nodes = gamelog.Int64Ptr(v)
					case "nps":
						eval.NPS = gamelog.Int64Ptr(v)
					default:
						eval.Time = gamelog.Millis(v)
					}
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind, val := parts[i+1], parts[i+2]
				if v, err := strconv.Atoi(val); err == nil {
					switch kind {
					case "cp":
						eval.Score = gamelog.Centipawns(sideToMove, v)
						found = true
					case "mate":
						eval.Score = gamelog.MateIn(sideToMove, v)
						found = true
					}
				}
				i += 2
			}
		case "lowerbound", "upperbound":
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if pvIdx != -1 && pvIdx < len(parts) {
		info.Principal = append([]string(nil), parts[pvIdx:]...)
		eval.PV = strings.Join(info.Principal, " ")
	}
	if !found && len(info.Principal) == 0 {
		return Info{}, false
	}
	info.Eval = &eval
	return info, true
}

// SideToMove reads the active color field of a FEN.
func SideToMove(fen string) gamelog.Color {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return gamelog.Black
	}
	return gamelog.White
}

// Collector keeps the latest line per multipv slot of one search.
type Collector struct {
	side  gamelog.Color
	lines map[int]Info
	best  string
}

func NewCollector(sideToMove gamelog.Color) *Collector {
	return &Collector{side: sideToMove, lines: make(map[int]Info)}
}

// Feed consumes one line of engine output and reports whether it was "bestmove".
func (c *Collector) Feed(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "info "):
		if info, ok := ParseInfo(line, c.side); ok {
			prev, seen := c.lines[info.MultiPV]
			// bound-only updates may omit the pv; keep the previous one
			if seen && info.Eval.PV == "" {
				info.Eval.PV = prev.Eval.PV
				info.Principal = prev.Principal
			}
			c.lines[info.MultiPV] = info
		}
	case strings.HasPrefix(line, "bestmove"):
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			c.best = parts[1]
		}
		return true
	}
	return false
}

// Evaluation returns the primary line's evaluation, or nil if none was reported.
func (c *Collector) Evaluation() *gamelog.Evaluation {
	info, ok := c.lines[1]
	if !ok {
		return nil
	}
	return info.Eval
}

func (c *Collector) BestMove() string { return c.best }

// Lines returns the collected lines ordered by multipv.
func (c *Collector) Lines() []Info {
	if len(c.lines) == 0 {
		return nil
	}
	keys := make([]int, 0, len(c.lines))
	for k := range c.lines {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.lines[k])
	}
	return out
}
