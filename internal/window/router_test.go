package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollingk/trader/internal/krx"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 8, 28, hh, mm, 0, 0, krx.KST)
}

func TestDecide_DefaultWindows(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name   string
		now    time.Time
		window string
		phase  string
	}{
		{"before_open", at(8, 40), "", ""},
		{"morning_verify", at(8, 55), Morning, PhaseVerify},
		{"morning_exit_start", at(9, 0), Morning, PhaseExit},
		{"morning_exit", at(9, 10), Morning, PhaseExit},
		{"morning_exit_end_is_exclusive", at(9, 20), Morning, PhaseVerify},
		{"late_morning_verify", at(10, 59), Morning, PhaseVerify},
		{"morning_end_is_exclusive", at(11, 0), "", ""},
		{"lunch", at(12, 30), "", ""},
		{"afternoon_prep", at(14, 30), Afternoon, PhasePrep},
		{"afternoon_entry", at(15, 25), Afternoon, PhaseEntry},
		{"after_close", at(15, 30), "", ""},
		{"evening", at(18, 0), "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := cfg.Decide(tc.now, OverrideAuto)
			if tc.window == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tc.window, d.Name)
			assert.Equal(t, tc.phase, d.Phase)
		})
	}
}

func TestDecide_OverrideRestrictsNotForces(t *testing.T) {
	cfg := DefaultConfig()

	d := cfg.Decide(at(9, 10), Afternoon)
	assert.Nil(t, d, "override never matches outside its own hours")

	d = cfg.Decide(at(9, 10), Morning)
	require.NotNil(t, d)
	assert.Equal(t, PhaseExit, d.Phase)
}

func TestDecide_NormalizesToExchangeTime(t *testing.T) {
	cfg := DefaultConfig()
	// 23:55 UTC on the 27th is 08:55 KST on the 28th.
	utc := time.Date(2026, 8, 27, 23, 55, 0, 0, time.UTC)
	d := cfg.Decide(utc, OverrideAuto)
	require.NotNil(t, d)
	assert.Equal(t, Morning, d.Name)
	assert.Equal(t, PhaseVerify, d.Phase)
}

func TestResolvePhase(t *testing.T) {
	d := &Decision{Name: Morning, Phase: PhaseVerify}
	assert.Equal(t, PhaseVerify, ResolvePhase(d, ""))
	assert.Equal(t, PhaseVerify, ResolvePhase(d, OverrideAuto))
	assert.Equal(t, PhaseExit, ResolvePhase(d, PhaseExit))
	assert.Equal(t, "", ResolvePhase(nil, OverrideAuto))
	assert.Equal(t, PhaseEntry, ResolvePhase(nil, PhaseEntry), "explicit phase works without a window")
}
