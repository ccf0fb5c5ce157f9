package gamelog

import "strings"

// PovScore is an engine score seen from one side. Exactly one of CP or Mate is meaningful:
// IsMate selects which.
type PovScore struct {
	POV    Color
	CP     int
	Mate   int
	IsMate bool
}

// Centipawns returns a score for pov from a centipawn value.
func Centipawns(pov Color, cp int) *PovScore {
	return &PovScore{POV: pov, CP: cp}
}

// MateIn returns a score for pov from a mate distance. Negative n means pov is being mated.
func MateIn(pov Color, n int) *PovScore {
	return &PovScore{POV: pov, Mate: n, IsMate: true}
}

// White returns the score from White's point of view.
func (s PovScore) White() PovScore {
	if Color(strings.ToLower(string(s.POV))) != Black {
		s.POV = White
		return s
	}
	return PovScore{POV: White, CP: -s.CP, Mate: -s.Mate, IsMate: s.IsMate}
}

// Elapsed is a think time as reported by the engine wrapper: either fractional seconds or
// whole milliseconds.
type Elapsed struct {
	value      float64
	fractional bool
}

func Seconds(s float64) *Elapsed { return &Elapsed{value: s, fractional: true} }

func Millis(ms int64) *Elapsed { return &Elapsed{value: float64(ms)} }

// Milliseconds truncates to whole milliseconds.
func (e Elapsed) Milliseconds() int64 {
	if e.fractional {
		return int64(e.value * 1000)
	}
	return int64(e.value)
}

// Evaluation is the optional engine bundle attached to a bot move. Nil fields are absent.
type Evaluation struct {
	Score *PovScore
	Depth *int
	Nodes *int64
	NPS   *int64
	Time  *Elapsed
	PV    string
}

type evalColumns struct {
	cp, mate, depth any
	nodes, nps      any
	timeMs          any
	pv              any
}

func (e *Evaluation) columns() evalColumns {
	c := evalColumns{}
	if e == nil {
		return c
	}
	if e.Score != nil {
		w := e.Score.White()
		if w.IsMate {
			c.mate = w.Mate
		} else {
			c.cp = w.CP
		}
	}
	if e.Depth != nil {
		c.depth = *e.Depth
	}
	if e.Nodes != nil {
		c.nodes = *e.Nodes
	}
	if e.NPS != nil {
		c.nps = *e.NPS
	}
	if e.Time != nil {
		c.timeMs = e.Time.Milliseconds()
	}
	if strings.TrimSpace(e.PV) != "" {
		c.pv = e.PV
	}
	return c
}

// IntPtr and Int64Ptr help build Evaluation literals.
func IntPtr(v int) *int { return &v }

func Int64Ptr(v int64) *int64 { return &v }
