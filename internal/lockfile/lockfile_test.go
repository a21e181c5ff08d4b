package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollingk/trader/internal/krx"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "run.lock")
}

func TestAcquireRelease(t *testing.T) {
	path := lockPath(t)

	require.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lock Lock
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, "trader", lock.Owner)
	assert.Equal(t, "r1", lock.RunID)
	assert.Equal(t, 900, lock.TTLSec)
	assert.False(t, lock.TS.IsZero())

	require.NoError(t, Release(path, "trader", "r1"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquire_HeldByLiveForeignLock(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))

	err := Acquire(path, "trader", "r2", 15*time.Minute)
	require.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "run_id=r1")
}

func TestAcquire_ReentrantForSameRun(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))
	assert.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))
}

func TestAcquire_ExpiredLockReplaced(t *testing.T) {
	path := lockPath(t)
	stale := Lock{Owner: "trader", RunID: "dead", TS: krx.Now().Add(-time.Hour), TTLSec: 60}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, Acquire(path, "trader", "r2", 15*time.Minute))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var lock Lock
	require.NoError(t, json.Unmarshal(raw, &lock))
	assert.Equal(t, "r2", lock.RunID)
}

func TestAcquire_CorruptLockQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	require.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "run.lock")
	found := false
	for _, name := range names {
		if name != "run.lock" {
			assert.Contains(t, name, ".corrupt.")
			found = true
		}
	}
	assert.True(t, found, "corrupt lock moved aside")
}

func TestRelease_LeavesForeignLockUntouched(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, Acquire(path, "trader", "r1", 15*time.Minute))

	require.NoError(t, Release(path, "trader", "r2"))
	_, err := os.Stat(path)
	assert.NoError(t, err, "another run's lock stays in place")
}

func TestRelease_MissingLockIsNoop(t *testing.T) {
	assert.NoError(t, Release(lockPath(t), "trader", "r1"))
}
