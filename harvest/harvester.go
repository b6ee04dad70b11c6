package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/store"
	"github.com/tokenflow/harvester/utils"
)

var (
	logger = utils.HarvestLogger("harvest")
)

// EVMSource is the paging contract the backward harvester walks. An empty
// result with a nil error means the source reported genuinely no data in
// range; a non-nil error is a hard failure.
type EVMSource interface {
	FetchLatest(ctx context.Context, contract string) ([]schema.RawRecord, error)
	FetchPage(ctx context.Context, contract string, endBlock int64) ([]schema.RawRecord, error)
}

type Config struct {
	Contract string
	DataDir  string

	// StartBoundary is the oldest timestamp the walk reaches before stopping.
	StartBoundary time.Time

	PageDelay       time.Duration
	MaxEmptyBatches int

	// RetrySleep paces the single centralized retry after a hard page error.
	RetrySleep time.Duration
}

// Harvester walks an EVM explorer backward from the newest record to the
// start boundary, writing block-range chunks and recording coverage so that
// re-runs skip completed ranges.
//
// The walk trusts the remote source: if the chain head shifts between the
// anchor fetch and later pages there is no consistency check.
type Harvester struct {
	source EVMSource
	config Config
}

type Result struct {
	ChunksWritten  int
	RowsWritten    int
	RecordsDropped int
}

func NewHarvester(source EVMSource, config Config) *Harvester {
	if config.MaxEmptyBatches <= 0 {
		config.MaxEmptyBatches = 3
	}
	if config.RetrySleep <= 0 {
		config.RetrySleep = 5 * config.PageDelay
	}
	return &Harvester{source: source, config: config}
}

// Run executes the backward walk. All three exits (boundary reached,
// empty-batch limit, persistent hard failure) return a nil error: the
// coverage index persisted along the way makes the next run pick up where
// this one stopped.
func (h *Harvester) Run(ctx context.Context) (*Result, error) {
	indexPath := filepath.Join(h.config.DataDir, "index.json")
	idx := store.LoadIndex(indexPath)
	columns := schema.Transfers{}.GetCSVSchema()
	startTs := h.config.StartBoundary.Unix()
	result := &Result{}

	utils.PrometheusHarvestStarted.WithLabelValues("eth").Inc()
	logger.Info().
		Str("contract", h.config.Contract).
		Str("boundary", h.config.StartBoundary.UTC().Format(time.RFC3339)).
		Msg("starting backward harvest")

	// Anchor the walk on the newest page; without it there is nothing to
	// walk backward from.
	latest, err := h.source.FetchLatest(ctx, h.config.Contract)
	if err != nil {
		return result, fmt.Errorf("initial fetch failed: %w", err)
	}
	anchor, dropped := schema.NormalizeEVM(latest)
	result.RecordsDropped += dropped
	if len(anchor) == 0 {
		return result, errors.New("no transactions returned in initial batch")
	}

	newestBlock := anchor[0].BlockNumber
	for _, rec := range anchor {
		if rec.BlockNumber > newestBlock {
			newestBlock = rec.BlockNumber
		}
	}
	logger.Debug().Int64("block", newestBlock).Int64("timestamp", anchor[0].Timestamp).Msg("anchored at newest record")

	cursor := newestBlock
	emptyBatches := 0

	for cursor >= 0 {
		if err := ctx.Err(); err != nil {
			logger.Warn().Msg("harvest interrupted, state persisted at last chunk")
			return result, err
		}
		utils.PrometheusCurrentCursor.WithLabelValues("eth").Set(float64(cursor))

		// Already-covered ranges are jumped over without fetching; this is
		// what makes re-runs after partial completion cheap.
		if covered, ok := idx.CoveringRange(cursor); ok {
			logger.Info().Int64("cursor", cursor).Int64("low", covered.Low).Msg("range already covered, skipping")
			cursor = covered.Low - 1
			continue
		}

		raw, err := h.fetchWithRetry(ctx, cursor)
		if err != nil {
			logger.Error().Int64("cursor", cursor).Str("err", err.Error()).Msg("persistent api failure, aborting walk")
			break
		}
		utils.PrometheusPagesFetched.WithLabelValues("eth").Inc()

		records, dropped := schema.NormalizeEVM(raw)
		result.RecordsDropped += dropped
		if dropped > 0 {
			utils.PrometheusRecordsDropped.WithLabelValues("eth").Add(float64(dropped))
		}

		if len(records) == 0 {
			emptyBatches++
			if emptyBatches >= h.config.MaxEmptyBatches {
				logger.Info().Int("empty_batches", emptyBatches).Msg("max empty batches reached, stopping")
				break
			}
			cursor--
			continue
		}
		emptyBatches = 0

		lowest := records[0].BlockNumber
		oldestTs := records[0].Timestamp
		for _, rec := range records {
			if rec.BlockNumber < lowest {
				lowest = rec.BlockNumber
			}
			if rec.Timestamp < oldestTs {
				oldestTs = rec.Timestamp
			}
		}

		boundaryReached := oldestTs < startTs
		if boundaryReached {
			records = filterAtOrAfter(records, startTs)
			if len(records) == 0 {
				logger.Info().Msg("batch entirely below boundary, stopping")
				break
			}
			lowest = records[len(records)-1].BlockNumber
			for _, rec := range records {
				if rec.BlockNumber < lowest {
					lowest = rec.BlockNumber
				}
			}
		}

		name := store.ChunkFilename(cursor, lowest)
		if err := store.WriteChunk(filepath.Join(h.config.DataDir, name), records, columns); err != nil {
			logger.Error().Str("file", name).Str("err", err.Error()).Msg("could not write chunk")
			break
		}
		if err := idx.RecordChunk(name, cursor, lowest); err != nil {
			logger.Error().Str("file", name).Str("err", err.Error()).Msg("could not record chunk")
			break
		}
		if err := store.SaveIndex(indexPath, idx); err != nil {
			logger.Error().Str("err", err.Error()).Msg("could not save index")
			break
		}

		result.ChunksWritten++
		result.RowsWritten += len(records)
		utils.PrometheusChunksWritten.WithLabelValues("eth").Inc()
		utils.PrometheusRecordsWritten.WithLabelValues("eth").Add(float64(len(records)))
		logger.Debug().Str("file", name).Int("rows", len(records)).Int64("high", cursor).Int64("low", lowest).Msg("wrote chunk")

		cursor = lowest - 1

		if boundaryReached {
			logger.Info().Msg("reached boundary timestamp, stopping")
			break
		}
		if err := sleepCtx(ctx, h.config.PageDelay); err != nil {
			return result, err
		}
	}

	utils.PrometheusHarvestFinished.WithLabelValues("eth").Inc()
	logger.Info().Int("chunks", result.ChunksWritten).Int("rows", result.RowsWritten).Msg("harvest finished")
	return result, nil
}

// fetchWithRetry retries a hard page failure exactly once after a longer
// sleep before giving up on the range.
func (h *Harvester) fetchWithRetry(ctx context.Context, cursor int64) ([]schema.RawRecord, error) {
	raw, err := h.source.FetchPage(ctx, h.config.Contract, cursor)
	if err == nil {
		return raw, nil
	}
	logger.Warn().Int64("cursor", cursor).Str("err", err.Error()).Msg("api error, retrying once after sleep")
	utils.PrometheusPageRetries.WithLabelValues("eth").Inc()
	if serr := sleepCtx(ctx, h.config.RetrySleep); serr != nil {
		return nil, serr
	}
	return h.source.FetchPage(ctx, h.config.Contract, cursor)
}

func filterAtOrAfter(records []schema.TransferRecord, startTs int64) []schema.TransferRecord {
	kept := records[:0]
	for _, rec := range records {
		if rec.Timestamp >= startTs {
			kept = append(kept, rec)
		}
	}
	return kept
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
