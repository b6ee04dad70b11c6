package harvest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResume_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")

	state := ResumeState{
		WinIndex:   3,
		PageOffset: 150,
		TotalSaved: 12345,
		DupCounter: 1,
	}
	require.NoError(t, SaveResume(path, state))

	loaded := LoadResume(path)
	assert.Equal(t, state.WinIndex, loaded.WinIndex)
	assert.Equal(t, state.PageOffset, loaded.PageOffset)
	assert.Equal(t, state.TotalSaved, loaded.TotalSaved)
	assert.Equal(t, state.DupCounter, loaded.DupCounter)
	assert.NotEmpty(t, loaded.Updated)
}

func TestLoadResume_MissingStartsFresh(t *testing.T) {
	state := LoadResume(filepath.Join(t.TempDir(), "resume.json"))
	assert.Equal(t, ResumeState{}, state)
}

func TestLoadResume_CorruptStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	state := LoadResume(path)
	assert.Equal(t, ResumeState{}, state)
}

func TestSaveResume_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.json")

	require.NoError(t, SaveResume(path, ResumeState{WinIndex: 1}))
	require.NoError(t, SaveResume(path, ResumeState{WinIndex: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resume.json", entries[0].Name())
}
