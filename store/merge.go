package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/utils"
)

// Merger folds pending chunk files into a single output dataset. Progress is
// checkpointed in the coverage index so a crash mid-merge never re-reads
// chunks that were already appended; the final dedup pass makes re-appends
// harmless either way.
type Merger struct {
	Dir               string
	IndexPath         string
	OutputFile        string
	BatchSaveInterval int
}

type pendingChunk struct {
	high int64
	low  int64
	path string
}

// Merge appends all chunks not yet marked merged to the output file, marks
// them merged (checkpointing every BatchSaveInterval chunks) and finally
// deduplicates the output on hash. Returns the number of rows appended.
func (m Merger) Merge() (int, error) {
	idx := LoadIndex(m.IndexPath)

	pending, err := m.pendingChunks(idx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		logger.Info().Msg("no new chunk files to merge")
		return 0, nil
	}
	logger.Info().Int("chunks", len(pending)).Msg("pending chunk files")

	columns := schema.Transfers{}.GetCSVSchema()
	interval := m.BatchSaveInterval
	if interval <= 0 {
		interval = 100
	}

	processed := make([]string, 0, interval)
	totalRows := 0

	for i, chunk := range pending {
		name := filepath.Base(chunk.path)

		header, rows, err := ReadChunk(chunk.path)
		if err != nil {
			logger.Error().Str("file", name).Str("err", err.Error()).Msg("failed to read chunk")
			continue
		}

		colIdx, ok := columnIndexes(header, columns)
		if !ok {
			logger.Warn().Str("file", name).Msg("missing canonical columns, skipping")
			continue
		}

		if err := m.appendRows(rows, colIdx, columns); err != nil {
			return totalRows, fmt.Errorf("failed to append %s: %w", name, err)
		}
		totalRows += len(rows)
		processed = append(processed, name)
		_ = idx.RecordChunk(name, chunk.high, chunk.low)
		utils.PrometheusChunksMerged.WithLabelValues("eth").Inc()

		if (i+1)%interval == 0 {
			idx.MarkMerged(processed)
			if err := SaveIndex(m.IndexPath, idx); err != nil {
				return totalRows, err
			}
			processed = processed[:0]
			logger.Debug().Int("chunks", i+1).Int("rows", totalRows).Msg("merge checkpoint")
		}
	}

	if len(processed) > 0 {
		idx.MarkMerged(processed)
		if err := SaveIndex(m.IndexPath, idx); err != nil {
			return totalRows, err
		}
	}

	if err := m.deduplicateOutput(); err != nil {
		return totalRows, err
	}

	logger.Info().Int("rows", totalRows).Msg("merge complete")
	return totalRows, nil
}

func (m Merger) pendingChunks(idx *Index) ([]pendingChunk, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk directory: %w", err)
	}

	pending := make([]pendingChunk, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == filepath.Base(m.OutputFile) {
			continue
		}
		high, low, ok := ParseChunkRange(name)
		if !ok {
			continue
		}
		if idx.IsMerged(name) {
			continue
		}
		pending = append(pending, pendingChunk{high: high, low: low, path: filepath.Join(m.Dir, name)})
	}

	// newest first
	sort.Slice(pending, func(i, j int) bool { return pending[i].high > pending[j].high })
	return pending, nil
}

// appendRows writes rows to the output in canonical column order, emitting
// the header only when the file is created.
func (m Merger) appendRows(rows [][]string, colIdx []int, columns []string) error {
	_, statErr := os.Stat(m.OutputFile)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(m.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			return err
		}
	}
	line := make([]string, len(columns))
	for _, row := range rows {
		for i, src := range colIdx {
			if src < len(row) {
				line[i] = row[src]
			} else {
				line[i] = ""
			}
		}
		if err := w.Write(line); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// deduplicateOutput rewrites the output keeping the first occurrence of every
// hash. Rows without a hash are kept as-is.
func (m Merger) deduplicateOutput() error {
	in, err := os.Open(m.OutputFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	r := csv.NewReader(in)
	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	hashCol := -1
	for i, col := range header {
		if col == "hash" {
			hashCol = i
			break
		}
	}

	tmp := m.OutputFile + "." + uuid.New().String() + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)

	if err := w.Write(header); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}

	seen := make(map[string]struct{})
	dropped := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			_ = os.Remove(tmp)
			return err
		}
		if hashCol >= 0 && hashCol < len(row) && row[hashCol] != "" {
			if _, dup := seen[row[hashCol]]; dup {
				dropped++
				continue
			}
			seen[row[hashCol]] = struct{}{}
		}
		if err := w.Write(row); err != nil {
			out.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, m.OutputFile); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if dropped > 0 {
		logger.Info().Int("duplicates", dropped).Msg("deduplicated merged output")
	}
	return nil
}

// StreamMerged reads the merged dataset back as transfer records in batches,
// for loading into an external destination.
func StreamMerged(path string, batchSize int, fn func([]schema.TransferRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	if batchSize <= 0 {
		batchSize = 500
	}
	batch := make([]schema.TransferRecord, 0, batchSize)

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		batch = append(batch, rowToRecord(header, row))
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			// callers may hold on to the batch, never reuse its backing array
			batch = make([]schema.TransferRecord, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func rowToRecord(header, row []string) schema.TransferRecord {
	rec := schema.TransferRecord{Raw: make(map[string]string, len(header))}
	for i, col := range header {
		if i >= len(row) {
			break
		}
		val := row[i]
		switch col {
		case "blockNumber":
			rec.BlockNumber, _ = strconv.ParseInt(val, 10, 64)
		case "timeStamp":
			rec.Timestamp, _ = strconv.ParseInt(val, 10, 64)
		case "hash":
			rec.Hash = val
		case "from":
			rec.From = val
		case "to":
			rec.To = val
		case "value":
			rec.Value = val
		case "datetime":
			rec.Datetime = val
		default:
			rec.Raw[col] = val
		}
	}
	return rec
}

func columnIndexes(header, columns []string) ([]int, bool) {
	pos := make(map[string]int, len(header))
	for i, col := range header {
		pos[col] = i
	}
	idx := make([]int, len(columns))
	for i, col := range columns {
		src, ok := pos[col]
		if !ok {
			return nil, false
		}
		idx[i] = src
	}
	return idx, true
}
