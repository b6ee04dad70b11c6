package destinations

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/utils"
)

type BigQueryConfig struct {
	ProjectId  string
	DatasetId  string
	TableId    string
	BucketName string

	BucketWorkerCount   int
	BigQueryWorkerCount int
}

func NewBigQuery(config BigQueryConfig) BigQuery {
	if config.BucketWorkerCount <= 0 {
		config.BucketWorkerCount = 2
	}
	if config.BigQueryWorkerCount <= 0 {
		config.BigQueryWorkerCount = 2
	}
	return BigQuery{
		config:        config,
		recordChannel: nil,
	}
}

type BigQuery struct {
	config        BigQueryConfig
	recordChannel chan []schema.TransferRecord

	bucketChannel     chan string
	bucketWaitGroup   sync.WaitGroup
	bigQueryWaitGroup sync.WaitGroup

	source schema.Transfers
}

func (b *BigQuery) Close() {}

func (b *BigQuery) GetMaxBlock() int64 {
	ctx := context.Background()

	client, err := bigquery.NewClient(ctx, b.config.ProjectId)
	if err != nil {
		logger.Error().Str("err", err.Error()).Msg("failed to create BigQuery client")
		return 0
	}
	defer client.Close()

	stmt := fmt.Sprintf("SELECT MAX(`blockNumber`) FROM `%s.%s`", b.config.DatasetId, b.config.TableId)
	it, err := client.Query(stmt).Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			logger.Debug().Msg("BigQuery table does not exist yet")
			return 0
		}
		logger.Error().Str("err", err.Error()).Msg("max block query failed")
		return 0
	}

	var maxBlock int64
	for {
		var row []bigquery.Value
		err = it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("BigQuery iterator failed")
			return 0
		}
		if row[0] != nil {
			maxBlock = row[0].(int64)
		}
	}
	return maxBlock
}

func (b *BigQuery) Initialize(source schema.Transfers, recordChannel chan []schema.TransferRecord) {
	b.source = source
	b.recordChannel = recordChannel
	b.bucketChannel = make(chan string, 4)
}

func (b *BigQuery) StartProcess(waitGroup *sync.WaitGroup) {
	waitGroup.Add(1)

	// Uploads CSV files to Google Cloud Storage
	b.bucketWaitGroup.Add(b.config.BucketWorkerCount)
	for i := 1; i <= b.config.BucketWorkerCount; i++ {
		go b.bucketWorker(fmt.Sprintf("bucket-%d", i))
	}

	// Import CSV files from Google Bucket to Table
	b.bigQueryWaitGroup.Add(b.config.BigQueryWorkerCount)
	for i := 1; i <= b.config.BigQueryWorkerCount; i++ {
		go b.bigqueryWorker(fmt.Sprintf("big_query-%d", i))
	}

	go func() {
		b.bucketWaitGroup.Wait()
		close(b.bucketChannel)

		b.bigQueryWaitGroup.Wait()

		waitGroup.Done()
	}()
}

func (b *BigQuery) bucketWorker(workerId string) {
	defer b.bucketWaitGroup.Done()

	columns := b.source.GetCSVSchema()
	for {
		items, ok := <-b.recordChannel
		if !ok {
			logger.Info().Str("worker-id", workerId).Msg("finished")
			return
		}

		csvBuffer := new(bytes.Buffer)
		csvWriter := csv.NewWriter(csvBuffer)

		_ = csvWriter.Write(columns)
		for _, record := range items {
			if err := csvWriter.Write(record.CSVLine(columns)); err != nil {
				panic(err)
			}
		}
		csvWriter.Flush()

		fileName := fmt.Sprintf("transfers/%s.csv.gz", uuid.New().String())

		err := utils.TryWithBackoff(5, 5*time.Second, func() error {
			return b.uploadCloudBucket(b.config.BucketName, fileName, csvBuffer)
		}, func(err error) {
			logger.Error().Str("worker-id", workerId).Str("err", err.Error()).Msg("upload failed, retrying")
		})
		if err != nil {
			logger.Error().Str("worker-id", workerId).Str("file", fileName).Msg("giving up on batch upload")
			continue
		}

		b.bucketChannel <- fileName

		logger.Debug().Str("worker-id", workerId).Str("file", fileName).Int("rows", len(items)).Int("channel", len(b.bucketChannel)).Msg("uploaded batch")
	}
}

func (b *BigQuery) bigqueryWorker(workerId string) {
	defer b.bigQueryWaitGroup.Done()

	for {
		item, ok := <-b.bucketChannel
		if !ok {
			logger.Info().Str("worker-id", workerId).Msg("finished")
			return
		}

		err := utils.TryWithBackoff(5, 5*time.Second, func() error {
			return b.importCSVExplicitSchema(fmt.Sprintf("gs://%s/%s", b.config.BucketName, item))
		}, func(err error) {
			logger.Error().Str("worker-id", workerId).Str("err", err.Error()).Msg("load job failed, retrying")
		})
		if err != nil {
			logger.Error().Str("worker-id", workerId).Str("file", item).Msg("giving up on load job")
			continue
		}

		logger.Debug().Str("worker-id", workerId).Str("file", item).Int("channel", len(b.bucketChannel)).Msg("imported batch")
	}
}

func (b *BigQuery) uploadCloudBucket(bucket, object string, buf io.Reader) error {
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage.NewClient: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Second*900)
	defer cancel()

	o := client.Bucket(bucket).Object(object)
	o = o.If(storage.Conditions{DoesNotExist: true})

	wc := o.NewWriter(ctx)
	wc.ContentEncoding = "gzip"

	gzipWriter := gzip.NewWriter(wc)
	if _, err = io.Copy(gzipWriter, buf); err != nil {
		return fmt.Errorf("io.Copy: %w", err)
	}
	if err = gzipWriter.Close(); err != nil {
		return fmt.Errorf("gzip.Close: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %w", err)
	}

	return nil
}

func (b *BigQuery) importCSVExplicitSchema(bucketFilePath string) error {
	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, b.config.ProjectId)
	if err != nil {
		return fmt.Errorf("bigquery.NewClient: %w", err)
	}
	defer client.Close()

	gcsRef := bigquery.NewGCSReference(bucketFilePath)
	gcsRef.SkipLeadingRows = 1
	gcsRef.Schema = b.source.GetBigQuerySchema()
	loader := client.Dataset(b.config.DatasetId).Table(b.config.TableId).LoaderFrom(gcsRef)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.TimePartitioning = b.source.GetBigQueryTimePartitioning()
	loader.Clustering = b.source.GetBigQueryClustering()

	job, err := loader.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}

	if status.Err() != nil {
		return fmt.Errorf("job completed with error: %v", status.Err())
	}
	return nil
}
