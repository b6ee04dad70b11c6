package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_RecordAndCover(t *testing.T) {
	idx := NewIndex()

	require.NoError(t, idx.RecordChunk("100_50.csv", 100, 50))
	require.NoError(t, idx.RecordChunk("200_150.csv", 200, 150))

	// inside recorded ranges
	assert.True(t, idx.Covers(50))
	assert.True(t, idx.Covers(75))
	assert.True(t, idx.Covers(100))
	assert.True(t, idx.Covers(200))

	// in the gap between ranges, inside the global envelope
	assert.False(t, idx.Covers(120))

	// outside the envelope
	assert.False(t, idx.Covers(49))
	assert.False(t, idx.Covers(201))

	r, ok := idx.CoveringRange(160)
	require.True(t, ok)
	assert.Equal(t, Range{High: 200, Low: 150}, r)
}

func TestIndex_RecordChunkRejectsInvertedRange(t *testing.T) {
	idx := NewIndex()
	assert.Error(t, idx.RecordChunk("50_100.csv", 50, 100))
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	idx := NewIndex()
	require.NoError(t, idx.RecordChunk("100_50.csv", 100, 50))
	require.NoError(t, idx.RecordChunk("200_150.csv", 200, 150))
	idx.MarkMerged([]string{"100_50.csv"})

	require.NoError(t, SaveIndex(path, idx))

	loaded := LoadIndex(path)
	assert.Equal(t, idx.Files, loaded.Files)
	assert.Equal(t, idx.Merged.Files, loaded.Merged.Files)

	min, max := loaded.Extremes()
	require.NotNil(t, min)
	require.NotNil(t, max)
	assert.Equal(t, int64(50), *min)
	assert.Equal(t, int64(200), *max)
}

func TestLoadIndex_MissingFile(t *testing.T) {
	idx := LoadIndex(filepath.Join(t.TempDir(), "nope.json"))
	assert.Empty(t, idx.Files)
	min, max := idx.Extremes()
	assert.Nil(t, min)
	assert.Nil(t, max)
}

func TestLoadIndex_UnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	idx := LoadIndex(path)
	assert.Empty(t, idx.Files)
}

func TestLoadIndex_LegacyFlatMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	legacy := `{
		"100_50.csv": "100_50.csv",
		"200_150.csv": {"high": 200, "low": 150}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	idx := LoadIndex(path)
	require.Len(t, idx.Files, 2)
	assert.Equal(t, Range{High: 100, Low: 50}, idx.Files["100_50.csv"])
	assert.Equal(t, Range{High: 200, Low: 150}, idx.Files["200_150.csv"])

	min, max := idx.Extremes()
	require.NotNil(t, min)
	require.NotNil(t, max)
	assert.Equal(t, int64(50), *min)
	assert.Equal(t, int64(200), *max)
}

func TestLoadIndex_HeterogeneousEntryShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	doc := `{
		"files": {
			"100_50.csv": {"high": 100, "low": 50},
			"200_150.csv": {"max_block": 200, "min_block": 150},
			"300_250.csv": {"hi": 300, "lo": 250},
			"400_350.csv": {"range": {"high": 400, "low": 350}},
			"500_450.csv": "500_450.csv",
			"600_550.csv": {"unknown_key": true},
			"garbage": {"unknown_key": true},
			"inverted": "50_100.csv",
			"40_90.csv": {"unknown_key": true}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	idx := LoadIndex(path)

	assert.Equal(t, Range{High: 100, Low: 50}, idx.Files["100_50.csv"])
	assert.Equal(t, Range{High: 200, Low: 150}, idx.Files["200_150.csv"])
	assert.Equal(t, Range{High: 300, Low: 250}, idx.Files["300_250.csv"])
	assert.Equal(t, Range{High: 400, Low: 350}, idx.Files["400_350.csv"])
	assert.Equal(t, Range{High: 500, Low: 450}, idx.Files["500_450.csv"])

	// unrecognized object whose name still encodes the range
	assert.Equal(t, Range{High: 600, Low: 550}, idx.Files["600_550.csv"])

	// nothing usable at all
	_, known := idx.Files["garbage"]
	assert.False(t, known)

	// inverted ranges never load, through either fallback
	_, known = idx.Files["inverted"]
	assert.False(t, known)
	_, known = idx.Files["40_90.csv"]
	assert.False(t, known)
}

func TestIndex_MarkMergedIdempotent(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.RecordChunk("100_50.csv", 100, 50))

	idx.MarkMerged([]string{"100_50.csv"})
	idx.MarkMerged([]string{"100_50.csv"})

	assert.Equal(t, []string{"100_50.csv"}, idx.Merged.Files)
	assert.True(t, idx.IsMerged("100_50.csv"))
	assert.False(t, idx.IsMerged("200_150.csv"))
}

func TestSaveIndex_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	idx := NewIndex()
	require.NoError(t, idx.RecordChunk("100_50.csv", 100, 50))
	require.NoError(t, SaveIndex(path, idx))
	require.NoError(t, SaveIndex(path, idx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.json", entries[0].Name())
}
