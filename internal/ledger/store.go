// Package ledger implements the append-only trade event log. Files are
// partitioned by (kind, date, run id) so concurrent runs never write to the
// same file, and every append is fsync'd before the call returns. The ledger
// is the source of truth for position state: positions are always rebuilt by
// replaying fills, never patched in place.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/atomicio"
	"github.com/rollingk/trader/internal/krx"
)

// DefaultIdempotencyLookbackDays bounds the HasClientOrderKey scan.
const DefaultIdempotencyLookbackDays = 7

// Store appends and scans ledger events under a base directory.
type Store struct {
	baseDir string
	env     string
	runID   string
	now     func() time.Time
}

// NewStore returns a store writing under baseDir for the given run.
func NewStore(baseDir, env, runID string) *Store {
	return &Store{baseDir: baseDir, env: env, runID: runID, now: krx.Now}
}

// WithClock overrides the store clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RunID reports the run id events are stamped with.
func (s *Store) RunID() string { return s.runID }

func (s *Store) runFile(kind, date string) string {
	return filepath.Join(s.baseDir, kind, date, fmt.Sprintf("run_%s.jsonl", s.runID))
}

// Append serializes the event as one JSON line and durably appends it to the
// partition for (kind, today, run id). The event id, timestamp, env and run
// id are assigned here when unset. A write failure is returned to the caller;
// it is never swallowed.
func (s *Store) Append(kind string, event Event) (string, error) {
	now := s.now()
	event.normalize(now)
	if event.RunID == "" {
		event.RunID = s.runID
	}
	if event.Env == "" {
		event.Env = s.env
	}
	line, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal %s event: %w", kind, err)
	}
	path := s.runFile(kind, now.Format("2006-01-02"))
	if err := atomicio.AppendLine(path, line); err != nil {
		return "", fmt.Errorf("append %s event: %w", kind, err)
	}
	log.Debug().
		Str("kind", kind).
		Str("event_type", event.EventType).
		Str("code", event.Code).
		Str("path", path).
		Msg("ledger append")
	return path, nil
}

// recentFiles lists run files for the given kinds whose date partition is
// within lookbackDays of today, sorted by path for deterministic replay.
func (s *Store) recentFiles(kinds []string, lookbackDays int) []string {
	cutoff := s.now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	var paths []string
	for _, kind := range kinds {
		base := filepath.Join(s.baseDir, kind)
		days, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, day := range days {
			if !day.IsDir() {
				continue
			}
			if _, err := time.Parse("2006-01-02", day.Name()); err != nil {
				continue
			}
			if day.Name() < cutoff {
				continue
			}
			matches, _ := filepath.Glob(filepath.Join(base, day.Name(), "run_*.jsonl"))
			paths = append(paths, matches...)
		}
	}
	sort.Strings(paths)
	return paths
}

// iterEvents parses events from the given files in order, skipping blank and
// malformed lines (a crashed writer may leave a partial trailing line).
func iterEvents(paths []string, fn func(Event)) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("open ledger file %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			fn(ev)
		}
		f.Close()
	}
	return nil
}

// HasClientOrderKey reports whether any event in the idempotency partitions
// from the last DefaultIdempotencyLookbackDays carries the given key. An
// empty key never matches.
func (s *Store) HasClientOrderKey(key string) (bool, error) {
	return s.HasClientOrderKeyWithin(key, DefaultIdempotencyLookbackDays)
}

// HasClientOrderKeyWithin is HasClientOrderKey with an explicit lookback.
func (s *Store) HasClientOrderKeyWithin(key string, lookbackDays int) (bool, error) {
	if key == "" {
		return false, nil
	}
	found := false
	err := iterEvents(s.recentFiles(idempotencyKinds, lookbackDays), func(ev Event) {
		if ev.ClientOrderKey == key {
			found = true
		}
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Events returns all events of the given kinds within the lookback window,
// sorted by timestamp. Used as evidence input for attribution recovery.
func (s *Store) Events(kinds []string, lookbackDays int) ([]Event, error) {
	var out []Event
	err := iterEvents(s.recentFiles(kinds, lookbackDays), func(ev Event) {
		out = append(out, ev)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}
