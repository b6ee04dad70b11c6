package harvest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tokenflow/harvester/harvest/collector"
	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/store"
	"github.com/tokenflow/harvester/utils"
)

// TronSource pages TRC20 transfers inside a time window and resolves
// per-transaction cost detail.
type TronSource interface {
	FetchTransfersPage(ctx context.Context, contract string, startMs, endMs int64, offset, limit int) ([]schema.RawRecord, error)
	FetchCosts(ctx context.Context, hashes []string, workers int, throttle time.Duration) map[string]map[string]string
}

type TronConfig struct {
	Contract string
	DataDir  string

	StartBoundary time.Time

	PageLimit         int
	SubwindowDays     int
	DupPagesBreak     int
	MaxPagesPerWindow int
	PageDelay         time.Duration

	EnrichCosts  bool
	CostWorkers  int
	CostThrottle time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// TronHarvester walks calendar-month windows newest to oldest, paging
// forward by offset inside each window and appending normalized records into
// per-block bucket files. Progress is checkpointed after every page so a
// long harvest survives process restarts.
type TronHarvester struct {
	source TronSource
	config TronConfig
}

type TronResult struct {
	NewRecords     int
	PagesFetched   int
	RecordsDropped int
}

func NewTronHarvester(source TronSource, config TronConfig) *TronHarvester {
	if config.PageLimit <= 0 {
		config.PageLimit = 50
	}
	if config.DupPagesBreak <= 0 {
		config.DupPagesBreak = 3
	}
	if config.MaxPagesPerWindow <= 0 {
		config.MaxPagesPerWindow = 4000
	}
	if config.CostWorkers <= 0 {
		config.CostWorkers = 4
	}
	if config.CostThrottle <= 0 {
		config.CostThrottle = 250 * time.Millisecond
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TronHarvester{source: source, config: config}
}

func (h *TronHarvester) Run(ctx context.Context) (*TronResult, error) {
	blocksDir := filepath.Join(h.config.DataDir, "blocks")
	resumePath := filepath.Join(h.config.DataDir, "resume.json")

	resume := LoadResume(resumePath)
	windows := MonthWindows(h.config.StartBoundary, h.config.Now())
	result := &TronResult{NewRecords: resume.TotalSaved}

	utils.PrometheusHarvestStarted.WithLabelValues("tron").Inc()
	logger.Info().
		Str("contract", h.config.Contract).
		Str("boundary", h.config.StartBoundary.UTC().Format(time.RFC3339)).
		Int("windows", len(windows)).
		Int("resume_window", resume.WinIndex).
		Msg("starting windowed harvest")

	winIndex := resume.WinIndex
	pageOffset := resume.PageOffset
	totalSaved := resume.TotalSaved
	dupCounter := resume.DupCounter

	for winIndex < len(windows) {
		window := windows[winIndex]
		slices := DaySlices(window, h.config.SubwindowDays)
		logger.Debug().
			Int("window", winIndex).
			Int("slices", len(slices)).
			Str("start", msTime(window.StartMs)).
			Str("end", msTime(window.EndMs)).
			Int("start_offset", pageOffset).
			Msg("entering window")

		for sliceIdx, slice := range slices {
			pagesInSlice := 0

			for {
				if err := ctx.Err(); err != nil {
					logger.Warn().Msg("harvest interrupted, resume state persisted")
					result.NewRecords = totalSaved
					return result, err
				}

				page, err := h.source.FetchTransfersPage(ctx, h.config.Contract, slice.StartMs, slice.EndMs, pageOffset, h.config.PageLimit)
				if err != nil {
					// hard failure: give up on this slice, the next run
					// revisits it through the duplicate-page shortcut
					logger.Error().Int("window", winIndex).Int("slice", sliceIdx).Str("err", err.Error()).Msg("page fetch failed, leaving slice")
					pageOffset = 0
					break
				}
				if len(page) == 0 {
					pageOffset = 0
					break
				}

				pagesInSlice++
				result.PagesFetched++
				utils.PrometheusPagesFetched.WithLabelValues("tron").Inc()

				records, dropped := schema.NormalizeTron(page)
				result.RecordsDropped += dropped
				if dropped > 0 {
					utils.PrometheusRecordsDropped.WithLabelValues("tron").Add(float64(dropped))
				}
				if len(records) == 0 {
					pageOffset += h.config.PageLimit
					if err := sleepCtx(ctx, h.config.PageDelay); err != nil {
						result.NewRecords = totalSaved
						return result, err
					}
					continue
				}

				stampRetrievedAt(records, h.config.Now())

				if h.config.EnrichCosts {
					hashes := make([]string, 0, len(records))
					for _, rec := range records {
						hashes = append(hashes, rec.Hash)
					}
					costs := h.source.FetchCosts(ctx, hashes, h.config.CostWorkers, h.config.CostThrottle)
					collector.EnrichWithCosts(records, costs)
				}

				newTx, err := h.writeBlocks(blocksDir, records)
				if err != nil {
					logger.Error().Str("err", err.Error()).Msg("failed to write block buckets, leaving slice")
					pageOffset = 0
					break
				}
				totalSaved += newTx
				utils.PrometheusRecordsWritten.WithLabelValues("tron").Add(float64(newTx))

				// Duplicate-page detection counts records appended, not
				// returned: pages full of already-seen hashes still count,
				// which is what ends windows whose tail pages only repeat.
				if newTx == 0 {
					dupCounter++
					utils.PrometheusDuplicatePages.WithLabelValues("tron").Inc()
				} else {
					dupCounter = 0
				}

				logger.Debug().
					Int("window", winIndex).
					Int("slice", sliceIdx).
					Int("offset", pageOffset).
					Int("new_tx", newTx).
					Int("total_tx", totalSaved).
					Int("pages_in_slice", pagesInSlice).
					Msg("page stored")

				if dupCounter >= h.config.DupPagesBreak {
					logger.Debug().Int("duplicate_pages", dupCounter).Int("window", winIndex).Msg("breaking slice early after duplicate pages")
					pageOffset = 0
					break
				}
				if pagesInSlice >= h.config.MaxPagesPerWindow {
					logger.Warn().Int("pages", pagesInSlice).Int("window", winIndex).Msg("page cap reached, moving on")
					pageOffset = 0
					break
				}
				if len(page) < h.config.PageLimit {
					pageOffset = 0
					break
				}

				pageOffset += h.config.PageLimit
				if err := SaveResume(resumePath, ResumeState{
					WinIndex:     winIndex,
					PageOffset:   pageOffset,
					TotalSaved:   totalSaved,
					DupCounter:   dupCounter,
					PagesInSlice: pagesInSlice,
				}); err != nil {
					logger.Error().Str("err", err.Error()).Msg("could not save resume state")
				}
				if err := sleepCtx(ctx, h.config.PageDelay); err != nil {
					result.NewRecords = totalSaved
					return result, err
				}
			}

			// next slice starts from the beginning
			pageOffset = 0
		}

		winIndex++
		if err := SaveResume(resumePath, ResumeState{
			WinIndex:   winIndex,
			PageOffset: pageOffset,
			TotalSaved: totalSaved,
			DupCounter: dupCounter,
		}); err != nil {
			logger.Error().Str("err", err.Error()).Msg("could not save resume state")
		}
	}

	utils.PrometheusHarvestFinished.WithLabelValues("tron").Inc()
	result.NewRecords = totalSaved
	logger.Info().Int("new_records", totalSaved).Str("blocks_dir", blocksDir).Msg("windowed harvest complete")
	return result, nil
}

// writeBlocks groups a page per block and appends each group into its block
// bucket, deduplicating on hash. Records without a block number cannot be
// bucketed and are skipped.
func (h *TronHarvester) writeBlocks(blocksDir string, records []schema.TransferRecord) (int, error) {
	perBlock := make(map[int64][]schema.TransferRecord)
	for _, rec := range records {
		if rec.BlockNumber == 0 {
			continue
		}
		perBlock[rec.BlockNumber] = append(perBlock[rec.BlockNumber], rec)
	}

	newTx := 0
	for block, group := range perBlock {
		appended, err := store.AppendBlockRecords(blocksDir, block, group)
		if err != nil {
			return newTx, fmt.Errorf("block %d: %w", block, err)
		}
		newTx += appended
	}
	return newTx, nil
}

func stampRetrievedAt(records []schema.TransferRecord, now time.Time) {
	stamp := strconv.FormatInt(now.Unix(), 10)
	for i := range records {
		if records[i].Raw == nil {
			records[i].Raw = map[string]string{}
		}
		records[i].Raw["retrieved_at"] = stamp
	}
}

func msTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
