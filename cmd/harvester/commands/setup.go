package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenflow/harvester/destinations"
	"github.com/tokenflow/harvester/harvest"
	"github.com/tokenflow/harvester/harvest/collector"
	"github.com/tokenflow/harvester/utils"
)

var (
	startDate       string
	dataDir         string
	destinationName string
	interval        float64
	y               bool
)

func setupEVMHarvester(config *utils.Config) (*harvest.Harvester, error) {
	httpClient, err := collector.NewHTTPClient(config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	client, err := collector.NewEtherscanClient(collector.EtherscanConfig{
		Endpoints:  config.Etherscan.Endpoints,
		APIKey:     config.Etherscan.APIKey,
		ChainID:    config.Etherscan.ChainID,
		Retry:      collector.RetryPolicy{MaxRetries: config.Etherscan.MaxRetries},
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}

	boundary, err := resolveBoundary(config.Etherscan.StartDate)
	if err != nil {
		return nil, err
	}

	return harvest.NewHarvester(client, harvest.Config{
		Contract:        config.Etherscan.Contract,
		DataDir:         resolveDataDir(config.Etherscan.DataDir, "data_eth"),
		StartBoundary:   boundary,
		PageDelay:       time.Duration(config.Etherscan.PageDelayMs) * time.Millisecond,
		MaxEmptyBatches: config.Etherscan.MaxEmptyBatches,
	}), nil
}

func setupTronHarvester(config *utils.Config) (*harvest.TronHarvester, error) {
	httpClient, err := collector.NewHTTPClient(config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	client, err := collector.NewTronClient(collector.TronConfig{
		Endpoints:  config.Tronscan.Endpoints,
		APIKey:     config.Tronscan.APIKey,
		Retry:      collector.RetryPolicy{MaxRetries: config.Tronscan.MaxRetries},
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}

	boundary, err := resolveBoundary(config.Tronscan.StartDate)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, config.Tronscan.Contract); err != nil {
		logger.Warn().Str("err", err.Error()).Msg("tronscan connectivity check failed, harvest may stall")
	}

	return harvest.NewTronHarvester(client, harvest.TronConfig{
		Contract:          config.Tronscan.Contract,
		DataDir:           resolveDataDir(config.Tronscan.DataDir, "data_tron"),
		StartBoundary:     boundary,
		PageLimit:         config.Tronscan.PageLimit,
		SubwindowDays:     config.Tronscan.SubwindowDays,
		DupPagesBreak:     config.Tronscan.DupPagesBreak,
		MaxPagesPerWindow: config.Tronscan.MaxPagesPerWindow,
		PageDelay:         time.Duration(config.Tronscan.PageDelayMs) * time.Millisecond,
		EnrichCosts:       config.Tronscan.EnrichCosts,
		CostWorkers:       config.Tronscan.CostWorkers,
	}), nil
}

func setupDestination(destination utils.Destination) (destinations.Destination, error) {
	switch destination.Type {
	case "big_query":
		bigQueryDest := destinations.NewBigQuery(destinations.BigQueryConfig{
			ProjectId:           destination.ProjectID,
			DatasetId:           destination.DatasetID,
			TableId:             destination.TableID,
			BucketName:          destination.BucketName,
			BigQueryWorkerCount: destination.WorkerCount,
			BucketWorkerCount:   destination.BucketWorkerCount,
		})
		return &bigQueryDest, nil
	case "postgres":
		postgresDest := destinations.NewPostgres(destinations.PostgresConfig{
			ConnectionUrl:       destination.ConnectionURL,
			TableName:           destination.TableName,
			PostgresWorkerCount: destination.WorkerCount,
			RowInsertLimit:      destination.RowInsertLimit,
		})
		return &postgresDest, nil
	default:
		return nil, fmt.Errorf("destination type not supported: %v", destination.Type)
	}
}

// resolveBoundary prefers the --start-date flag over the config value.
func resolveBoundary(configured string) (time.Time, error) {
	value := configured
	if startDate != "" {
		value = startDate
	}
	if value == "" {
		return time.Time{}, fmt.Errorf("no start date configured")
	}
	boundary, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return boundary.UTC(), nil
}

func resolveDataDir(configured, fallback string) string {
	if dataDir != "" {
		return dataDir
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// shutdownContext cancels on the first SIGINT/SIGTERM and force-exits on the
// second.
func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sigCount := 0
		for {
			<-shutdownChannel
			sigCount++
			if sigCount == 1 {
				cancel()
				logger.Info().Msg("Exiting...")
				logger.Warn().Msg("This can take some time, please wait until harvester exited!")
			} else if sigCount == 2 {
				logger.Warn().Msg("Received second signal, forcing exit...")
				os.Exit(1)
			}
		}
	}()

	return ctx, cancel
}
