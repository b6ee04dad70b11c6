package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/tokenflow/harvester/utils"
)

var (
	logger = utils.HarvestLogger("store")
)

// Range is one covered block interval, inclusive on both ends.
type Range struct {
	High int64 `json:"high"`
	Low  int64 `json:"low"`
}

type Envelope struct {
	Min *int64 `json:"min"`
	Max *int64 `json:"max"`
}

type MergedSet struct {
	Min   *int64   `json:"min"`
	Max   *int64   `json:"max"`
	Files []string `json:"files"`
}

// Index records which block ranges have already been harvested and which
// chunk files have been folded into the merged dataset. The global envelope
// is a fast reject only: coverage has gaps, so containment is always decided
// per entry.
type Index struct {
	Files  map[string]Range `json:"files"`
	Global Envelope         `json:"global"`
	Merged MergedSet        `json:"merged"`
}

func NewIndex() *Index {
	return &Index{
		Files:  map[string]Range{},
		Merged: MergedSet{Files: []string{}},
	}
}

// LoadIndex reads an index file. A missing file yields an empty index, legacy
// flat-map files are upgraded, and entries in any of the historical shapes
// are normalized; anything unrecognizable is dropped with a warning.
func LoadIndex(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewIndex()
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn().Str("path", path).Str("err", err.Error()).Msg("unparseable index, starting empty")
		return NewIndex()
	}

	idx := NewIndex()

	rawFiles, structured := doc["files"]
	if structured {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(rawFiles, &entries); err == nil {
			for name, entry := range entries {
				if r, ok := normalizeEntry(name, entry); ok {
					idx.Files[name] = r
				} else {
					logger.Warn().Str("entry", name).Msg("unrecognized index entry, skipping")
				}
			}
		}
		if rawMerged, ok := doc["merged"]; ok {
			var merged MergedSet
			if err := json.Unmarshal(rawMerged, &merged); err == nil {
				idx.Merged = merged
			}
		}
	} else {
		// legacy flat form: the whole document is the files map
		for name, entry := range doc {
			if r, ok := normalizeEntry(name, entry); ok {
				idx.Files[name] = r
			} else {
				logger.Warn().Str("entry", name).Msg("unrecognized index entry, skipping")
			}
		}
	}

	if idx.Merged.Files == nil {
		idx.Merged.Files = []string{}
	}
	idx.recomputeGlobal()

	return idx
}

// normalizeEntry maps any supported external entry representation to the
// canonical (high, low) form: plain filename strings, objects under several
// key-naming conventions, or a nested range container. The entry name itself
// is the final fallback since chunk names encode their range.
func normalizeEntry(name string, raw json.RawMessage) (Range, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if high, low, ok := ParseChunkRange(s); ok {
			return Range{High: high, Low: low}, true
		}
		return Range{}, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if nested, ok := obj["range"]; ok {
			return normalizeEntry(name, nested)
		}
		for _, keys := range [][2]string{{"high", "low"}, {"max_block", "min_block"}, {"hi", "lo"}} {
			high, okHigh := entryInt(obj, keys[0])
			low, okLow := entryInt(obj, keys[1])
			if okHigh && okLow && low <= high {
				return Range{High: high, Low: low}, true
			}
		}
	}

	if high, low, ok := ParseChunkRange(name); ok {
		return Range{High: high, Low: low}, true
	}
	return Range{}, false
}

func entryInt(obj map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// SaveIndex persists the index atomically: the file on disk is always a
// complete document, a crash mid-write at worst loses this update.
func SaveIndex(path string, idx *Index) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf("idx_%s.json", uuid.New().String()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

// Covers reports whether any recorded chunk range contains the given block.
func (idx *Index) Covers(block int64) bool {
	_, ok := idx.CoveringRange(block)
	return ok
}

// CoveringRange returns the recorded range containing the given block.
func (idx *Index) CoveringRange(block int64) (Range, bool) {
	if idx.Global.Min == nil || idx.Global.Max == nil {
		return Range{}, false
	}
	if block < *idx.Global.Min || block > *idx.Global.Max {
		return Range{}, false
	}
	for _, r := range idx.Files {
		if r.Low <= block && block <= r.High {
			return r, true
		}
	}
	return Range{}, false
}

// RecordChunk adds a chunk entry and widens the global envelope.
func (idx *Index) RecordChunk(name string, high, low int64) error {
	if low > high {
		return fmt.Errorf("invalid chunk range: low %d > high %d", low, high)
	}
	idx.Files[name] = Range{High: high, Low: low}
	idx.Global.Min = minN(idx.Global.Min, low)
	idx.Global.Max = maxN(idx.Global.Max, high)
	return nil
}

// MarkMerged moves chunk entries into the merged set. Marking a chunk twice
// has no additional effect.
func (idx *Index) MarkMerged(names []string) {
	if len(names) == 0 {
		return
	}

	for _, name := range names {
		r, known := idx.Files[name]
		if !known {
			continue
		}
		idx.Merged.Min = minN(idx.Merged.Min, r.Low)
		idx.Merged.Max = maxN(idx.Merged.Max, r.High)
	}

	set := make(map[string]struct{}, len(idx.Merged.Files)+len(names))
	for _, name := range idx.Merged.Files {
		set[name] = struct{}{}
	}
	for _, name := range names {
		set[name] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for name := range set {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	idx.Merged.Files = merged
}

func (idx *Index) IsMerged(name string) bool {
	for _, m := range idx.Merged.Files {
		if m == name {
			return true
		}
	}
	return false
}

// Extremes returns the global envelope bounds, nil when the index is empty.
func (idx *Index) Extremes() (*int64, *int64) {
	return idx.Global.Min, idx.Global.Max
}

func (idx *Index) recomputeGlobal() {
	idx.Global = Envelope{}
	for _, r := range idx.Files {
		idx.Global.Min = minN(idx.Global.Min, r.Low)
		idx.Global.Max = maxN(idx.Global.Max, r.High)
	}
}

func minN(cur *int64, v int64) *int64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func maxN(cur *int64, v int64) *int64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}
