package atomicio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_CreatesParentsAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "2026-08-28", "pnl_snapshot.json")

	require.NoError(t, WriteFile(path, []byte("payload"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")
}

func TestWriteFile_ReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteFile(path, []byte("first, much longer content"), 0o644))
	require.NoError(t, WriteFile(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data), "no remnant of the previous content")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSON(path, map[string]int{"qty": 10}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]int
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 10, doc["qty"])
	assert.Equal(t, byte('\n'), data[len(data)-1], "document ends with a newline")
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills", "2026-08-28", "run_r1.jsonl")
	require.NoError(t, AppendLine(path, []byte(`{"n":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"n":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(data))
}

func TestQuarantineCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lot_state.json")
	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))

	backup, err := QuarantineCorrupt(path, 1756350000)
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt.1756350000", backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "broken", string(data), "evidence preserved")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
