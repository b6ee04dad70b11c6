package harvest

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/store"
)

type fakeEVMSource struct {
	latest   []schema.RawRecord
	pages    map[int64][]schema.RawRecord
	failures map[int64]int

	pageCalls []int64
}

func (f *fakeEVMSource) FetchLatest(ctx context.Context, contract string) ([]schema.RawRecord, error) {
	return f.latest, nil
}

func (f *fakeEVMSource) FetchPage(ctx context.Context, contract string, endBlock int64) ([]schema.RawRecord, error) {
	f.pageCalls = append(f.pageCalls, endBlock)
	if f.failures[endBlock] > 0 {
		f.failures[endBlock]--
		return nil, errors.New("boom")
	}
	return f.pages[endBlock], nil
}

func evmRaw(block, ts int64, hash string) schema.RawRecord {
	return schema.RawRecord{
		"blockNumber": strconv.FormatInt(block, 10),
		"timeStamp":   strconv.FormatInt(ts, 10),
		"hash":        hash,
		"from":        "0xfrom",
		"to":          "0xto",
		"value":       "1",
	}
}

func newTestHarvester(source EVMSource, dataDir string, boundary time.Time) *Harvester {
	return NewHarvester(source, Config{
		Contract:      "0xcontract",
		DataDir:       dataDir,
		StartBoundary: boundary,
	})
}

func TestHarvester_WalksBackToBoundary(t *testing.T) {
	dir := t.TempDir()

	source := &fakeEVMSource{
		latest: []schema.RawRecord{evmRaw(100, 1000, "a")},
		pages: map[int64][]schema.RawRecord{
			100: {evmRaw(100, 1000, "a"), evmRaw(99, 990, "b"), evmRaw(98, 980, "c")},
			97:  {evmRaw(97, 970, "d"), evmRaw(96, 960, "e"), evmRaw(95, 950, "f")},
			// "h" sits below the boundary and must be trimmed
			94: {evmRaw(94, 940, "g"), evmRaw(93, 400, "h")},
		},
	}

	h := newTestHarvester(source, dir, time.Unix(500, 0))
	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.ChunksWritten)
	assert.Equal(t, 7, result.RowsWritten)

	idx := store.LoadIndex(filepath.Join(dir, "index.json"))
	assert.Contains(t, idx.Files, "100_98.csv")
	assert.Contains(t, idx.Files, "97_95.csv")
	assert.Contains(t, idx.Files, "94_94.csv")

	// trimmed record never reaches a chunk
	_, rows, err := store.ReadChunk(filepath.Join(dir, "94_94.csv"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHarvester_StopsAfterMaxEmptyBatches(t *testing.T) {
	dir := t.TempDir()

	source := &fakeEVMSource{
		latest: []schema.RawRecord{evmRaw(10, 1000, "a")},
		pages: map[int64][]schema.RawRecord{
			10: {evmRaw(10, 1000, "a")},
		},
	}

	h := newTestHarvester(source, dir, time.Unix(0, 0))
	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChunksWritten)
	// three consecutive empty pages below the chunk
	assert.Equal(t, []int64{10, 9, 8, 7}, source.pageCalls)
}

func TestHarvester_SkipsCoveredRangesWithoutFetching(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.json")

	idx := store.NewIndex()
	require.NoError(t, idx.RecordChunk("100_90.csv", 100, 90))
	require.NoError(t, store.SaveIndex(indexPath, idx))

	source := &fakeEVMSource{
		latest: []schema.RawRecord{evmRaw(100, 1000, "a")},
		pages: map[int64][]schema.RawRecord{
			89: {evmRaw(89, 400, "b")},
		},
	}

	h := newTestHarvester(source, dir, time.Unix(500, 0))
	result, err := h.Run(context.Background())
	require.NoError(t, err)

	// the covered range was jumped, only the block below it was fetched
	assert.Equal(t, []int64{89}, source.pageCalls)
	// and that page was entirely below the boundary
	assert.Equal(t, 0, result.ChunksWritten)
}

func TestHarvester_SecondRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	source := &fakeEVMSource{
		latest: []schema.RawRecord{evmRaw(100, 1000, "a")},
		pages: map[int64][]schema.RawRecord{
			100: {evmRaw(100, 1000, "a"), evmRaw(98, 600, "b")},
		},
	}

	h := newTestHarvester(source, dir, time.Unix(500, 0))
	first, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.ChunksWritten)

	second, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ChunksWritten)
}

func TestHarvester_RetriesHardErrorOnce(t *testing.T) {
	dir := t.TempDir()

	source := &fakeEVMSource{
		latest:   []schema.RawRecord{evmRaw(100, 1000, "a")},
		failures: map[int64]int{100: 1},
		pages: map[int64][]schema.RawRecord{
			100: {evmRaw(100, 1000, "a"), evmRaw(99, 600, "b")},
		},
	}

	h := newTestHarvester(source, dir, time.Unix(500, 0))
	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChunksWritten)
	assert.Equal(t, []int64{100, 100}, source.pageCalls)
}

func TestHarvester_AbortsAfterPersistentFailure(t *testing.T) {
	dir := t.TempDir()

	source := &fakeEVMSource{
		latest:   []schema.RawRecord{evmRaw(100, 1000, "a")},
		failures: map[int64]int{100: 2},
	}

	h := newTestHarvester(source, dir, time.Unix(500, 0))
	result, err := h.Run(context.Background())

	// a persistent failure ends the walk but is not fatal
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunksWritten)
	assert.Equal(t, []int64{100, 100}, source.pageCalls)
}

func TestHarvester_ErrorsWithoutAnchor(t *testing.T) {
	source := &fakeEVMSource{}
	h := newTestHarvester(source, t.TempDir(), time.Unix(500, 0))

	_, err := h.Run(context.Background())
	assert.Error(t, err)
}
