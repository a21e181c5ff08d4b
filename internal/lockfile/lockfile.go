// Package lockfile guards the shared state directory across processes with a
// single JSON lock file. Acquisition is fail-fast: an invocation that cannot
// take the lock exits without side effects, it never queues or blocks.
// Absence or TTL expiry means unlocked.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/atomicio"
	"github.com/rollingk/trader/internal/krx"
)

// ErrHeld reports that a live lock is held by another run.
var ErrHeld = errors.New("lock held by another run")

// Lock is the on-disk lock document.
type Lock struct {
	Owner  string    `json:"owner"`
	RunID  string    `json:"run_id"`
	TS     time.Time `json:"ts"`
	TTLSec int       `json:"ttl_sec"`
}

// Expired reports whether the lock's TTL has elapsed.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.TS.Add(time.Duration(l.TTLSec) * time.Second))
}

// Acquire takes the lock at path for (owner, runID) or returns ErrHeld. A
// corrupt lock file is quarantined and treated as absent; an expired lock is
// replaced.
func Acquire(path, owner, runID string, ttl time.Duration) error {
	now := krx.Now()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var existing Lock
		if uerr := json.Unmarshal(data, &existing); uerr != nil {
			backup, qerr := atomicio.QuarantineCorrupt(path, now.Unix())
			if qerr != nil {
				return fmt.Errorf("lock corrupt and quarantine failed: %w", qerr)
			}
			log.Warn().Str("path", path).Str("backup", backup).Msg("corrupt lock file quarantined")
		} else if !existing.Expired(now) && existing.RunID != runID {
			return fmt.Errorf("%w: owner=%s run_id=%s since=%s",
				ErrHeld, existing.Owner, existing.RunID, existing.TS.Format(time.RFC3339))
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read lock %s: %w", path, err)
	}

	lock := Lock{Owner: owner, RunID: runID, TS: now, TTLSec: int(ttl / time.Second)}
	if err := atomicio.WriteJSON(path, lock); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	log.Debug().Str("owner", owner).Str("run_id", runID).Msg("lock acquired")
	return nil
}

// Release removes the lock only if it is still held by (owner, runID);
// another run's lock is left untouched.
func Release(path, owner, runID string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock %s: %w", path, err)
	}
	var existing Lock
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil
	}
	if existing.Owner != owner || existing.RunID != runID {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove lock %s: %w", path, err)
	}
	return nil
}
