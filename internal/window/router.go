// Package window maps wall-clock time to a trading phase. Decide is a pure
// function: no persisted state, time in, phase out. Time outside every
// configured window yields no decision, which the engine treats as
// "diagnostics only, take no trading action".
package window

import (
	"time"

	"github.com/rollingk/trader/internal/krx"
)

// Window names.
const (
	Morning   = "morning"
	Afternoon = "afternoon"
)

// Phases.
const (
	PhaseVerify = "verify"
	PhaseExit   = "exit"
	PhasePrep   = "prep"
	PhaseEntry  = "entry"
)

// OverrideAuto leaves window and phase selection to the clock.
const OverrideAuto = "auto"

// HHMM is a wall-clock minute in exchange time, e.g. "08:50".
type HHMM string

func (h HHMM) minutes() int {
	t, err := time.Parse("15:04", string(h))
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}

// Range is a half-open [Start, End) wall-clock interval.
type Range struct {
	Start HHMM `yaml:"start"`
	End   HHMM `yaml:"end"`
}

// Contains reports whether the instant falls inside the range.
func (r Range) Contains(now time.Time) bool {
	m := now.In(krx.KST).Hour()*60 + now.In(krx.KST).Minute()
	return r.Start.minutes() <= m && m < r.End.minutes()
}

// Config describes the two trading windows. Each window has a default phase
// and an embedded sub-range that switches it.
type Config struct {
	// Morning window: verify by default, exit inside the sub-range.
	Morning     Range `yaml:"morning"`
	MorningExit Range `yaml:"morning_exit"`
	// Afternoon window: prep by default, entry inside the sub-range
	// (close auction).
	Afternoon      Range `yaml:"afternoon"`
	AfternoonEntry Range `yaml:"afternoon_entry"`
}

// DefaultConfig returns the standard KRX session windows.
func DefaultConfig() Config {
	return Config{
		Morning:        Range{Start: "08:50", End: "11:00"},
		MorningExit:    Range{Start: "09:00", End: "09:20"},
		Afternoon:      Range{Start: "14:00", End: "15:30"},
		AfternoonEntry: Range{Start: "15:20", End: "15:30"},
	}
}

// Decision names the active window and its phase.
type Decision struct {
	Name  string
	Phase string
}

// Decide returns the active window decision for now, or nil outside all
// windows. A window override ("morning"/"afternoon") restricts matching to
// that window; it does not force a match outside its hours.
func (c Config) Decide(now time.Time, override string) *Decision {
	morning := func() *Decision {
		if !c.Morning.Contains(now) {
			return nil
		}
		phase := PhaseVerify
		if c.MorningExit.Contains(now) {
			phase = PhaseExit
		}
		return &Decision{Name: Morning, Phase: phase}
	}
	afternoon := func() *Decision {
		if !c.Afternoon.Contains(now) {
			return nil
		}
		phase := PhasePrep
		if c.AfternoonEntry.Contains(now) {
			phase = PhaseEntry
		}
		return &Decision{Name: Afternoon, Phase: phase}
	}
	switch override {
	case Morning:
		return morning()
	case Afternoon:
		return afternoon()
	}
	if d := morning(); d != nil {
		return d
	}
	return afternoon()
}

// ResolvePhase applies an explicit phase override to a decision; "auto"
// keeps the window's own phase. Used for forced diagnostic or verification
// runs.
func ResolvePhase(d *Decision, phaseOverride string) string {
	if phaseOverride != "" && phaseOverride != OverrideAuto {
		return phaseOverride
	}
	if d == nil {
		return ""
	}
	return d.Phase
}
