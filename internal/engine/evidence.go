package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

func sidString(sid int) string {
	return strconv.Itoa(sid)
}

func sidInt(strategyID string) int {
	n, err := strconv.Atoi(strategyID)
	if err != nil {
		return 0
	}
	return n
}

// selectionSnapshot loads the most recent selection (rebalance) result from
// <data>/selection/*.json as a strategy-id to codes map. The file is written
// by the out-of-scope selection pipeline; absence just means one less
// evidence source.
func (e *Engine) selectionSnapshot() map[string][]string {
	matches, _ := filepath.Glob(filepath.Join(e.p.Config.DataDir, "selection", "*.json"))
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]
	data, err := os.ReadFile(latest)
	if err != nil {
		log.Warn().Str("path", latest).Err(err).Msg("selection snapshot unreadable")
		return nil
	}
	var selection map[string][]string
	if err := json.Unmarshal(data, &selection); err != nil {
		log.Warn().Str("path", latest).Err(err).Msg("selection snapshot malformed")
		return nil
	}
	return selection
}
