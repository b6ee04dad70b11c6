package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tokenflow/harvester/schema"
)

func ChunkFilename(high, low int64) string {
	return fmt.Sprintf("%d_%d.csv", high, low)
}

// ParseChunkRange recovers the (high, low) block pair encoded in a chunk
// filename. Anything that does not look like {high}_{low}.csv with
// high >= low is rejected.
func ParseChunkRange(name string) (high, low int64, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".csv")
	parts := strings.Split(base, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	high, errHigh := strconv.ParseInt(parts[0], 10, 64)
	low, errLow := strconv.ParseInt(parts[1], 10, 64)
	if errHigh != nil || errLow != nil || low > high {
		return 0, 0, false
	}
	return high, low, true
}

// WriteChunk writes records as a CSV chunk file in the given column order.
// Chunks are immutable once written.
func WriteChunk(path string, records []schema.TransferRecord, columns []string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunk %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec.CSVLine(columns)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadChunk reads a chunk CSV into its header and rows.
func ReadChunk(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read chunk %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

func BlockBucketPath(dir string, block int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.json", block))
}

// AppendBlockRecords merges records into a block-bucket file, skipping hashes
// already present and keeping the bucket sorted newest-first. Buckets may
// receive additional records across separate runs. Returns the number of
// records actually appended.
func AppendBlockRecords(dir string, block int64, records []schema.TransferRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return 0, fmt.Errorf("failed to create bucket directory: %w", err)
	}

	path := BlockBucketPath(dir, block)

	var existing []schema.TransferRecord
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			// corrupt bucket, rebuild from scratch
			existing = nil
		}
	}

	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		if rec.Hash != "" {
			seen[rec.Hash] = struct{}{}
		}
	}

	appended := 0
	for _, rec := range records {
		if rec.Hash != "" {
			if _, dup := seen[rec.Hash]; dup {
				continue
			}
			seen[rec.Hash] = struct{}{}
		}
		existing = append(existing, rec)
		appended++
	}
	if appended == 0 {
		return 0, nil
	}

	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].Timestamp > existing[j].Timestamp
	})

	data, err := json.Marshal(existing)
	if err != nil {
		return 0, err
	}
	tmp := filepath.Join(dir, fmt.Sprintf("bucket_%s.json", uuid.New().String()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write bucket temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to replace bucket %s: %w", path, err)
	}
	return appended, nil
}

// ReadBlockBucket loads a block-bucket file; missing files read as empty.
func ReadBlockBucket(dir string, block int64) ([]schema.TransferRecord, error) {
	data, err := os.ReadFile(BlockBucketPath(dir, block))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []schema.TransferRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
