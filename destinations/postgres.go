package destinations

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/utils"
)

type PostgresConfig struct {
	ConnectionUrl string
	TableName     string

	PostgresWorkerCount int
	RowInsertLimit      int
}

func NewPostgres(config PostgresConfig) Postgres {
	if config.PostgresWorkerCount <= 0 {
		config.PostgresWorkerCount = 2
	}
	return Postgres{
		config:        config,
		recordChannel: nil,
	}
}

type Postgres struct {
	config        PostgresConfig
	recordChannel chan []schema.TransferRecord
	db            *sql.DB

	postgresWaitGroup sync.WaitGroup

	source schema.Transfers
}

func (p *Postgres) Initialize(source schema.Transfers, recordChannel chan []schema.TransferRecord) {
	p.source = source
	p.recordChannel = recordChannel
}

func (p *Postgres) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

func (p *Postgres) GetMaxBlock() int64 {
	if p.db == nil {
		return 0
	}
	var maxBlock sql.NullInt64
	stmt := fmt.Sprintf(`SELECT MAX("blockNumber") FROM %s`, p.config.TableName)
	if err := p.db.QueryRow(stmt).Scan(&maxBlock); err != nil {
		logger.Debug().Str("err", err.Error()).Msg("max block query failed")
		return 0
	}
	return maxBlock.Int64
}

func (p *Postgres) StartProcess(waitGroup *sync.WaitGroup) {
	waitGroup.Add(1)

	db, err := sql.Open("postgres", p.config.ConnectionUrl)
	if err != nil {
		panic(err)
	}
	p.db = db
	logger.Info().Msg("postgres connection established")

	if _, tableErr := p.db.Exec(p.source.GetPostgresCreateTableCommand(p.config.TableName)); tableErr != nil {
		panic(tableErr)
	}

	p.postgresWaitGroup.Add(p.config.PostgresWorkerCount)
	for i := 1; i <= p.config.PostgresWorkerCount; i++ {
		go p.postgresWorker(fmt.Sprintf("postgres-%d", i))
	}

	go func() {
		p.postgresWaitGroup.Wait()
		waitGroup.Done()
	}()
}

func (p *Postgres) postgresWorker(name string) {
	defer p.postgresWaitGroup.Done()

	for {
		items, ok := <-p.recordChannel
		if !ok {
			logger.Info().Str("worker-id", name).Msg("finished")
			return
		}

		for _, chunk := range p.splitBatch(items) {
			chunk := chunk
			err := utils.TryWithBackoff(5, 5*time.Second, func() error {
				return p.bulkInsert(chunk)
			}, func(err error) {
				logger.Error().Str("worker-id", name).Str("err", err.Error()).Msg("insert failed, retrying")
			})
			if err != nil {
				logger.Error().Str("worker-id", name).Str("err", err.Error()).Msg("batch dropped after retries")
			}
		}

		logger.Debug().Str("worker-id", name).Int("rows", len(items)).Int("channel", len(p.recordChannel)).Msg("inserted batch")
	}
}

// splitBatch keeps single statements under the postgres placeholder limit.
func (p *Postgres) splitBatch(items []schema.TransferRecord) [][]schema.TransferRecord {
	limit := p.config.RowInsertLimit
	if limit <= 0 || len(items) <= limit {
		return [][]schema.TransferRecord{items}
	}
	chunks := make([][]schema.TransferRecord, 0, len(items)/limit+1)
	for start := 0; start < len(items); start += limit {
		end := start + limit
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func (p *Postgres) bulkInsert(items []schema.TransferRecord) error {
	columnNames := p.source.GetCSVSchema()

	argsCounter := 1
	templateStrings := make([]string, 0, len(items))
	valueArgs := make([]interface{}, 0, len(items)*len(columnNames))
	for _, row := range items {
		s := make([]string, len(columnNames))
		for i := range s {
			s[i] = "$" + strconv.FormatInt(int64(argsCounter), 10)
			argsCounter += 1
		}
		templateStrings = append(templateStrings, fmt.Sprintf("(%s)", strings.Join(s, ", ")))
		for _, field := range row.CSVLine(columnNames) {
			valueArgs = append(valueArgs, nullable(field))
		}
	}

	// re-running a merge replays batches, the conflict clause keeps that safe
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (hash) DO NOTHING",
		p.config.TableName,
		"\""+strings.Join(columnNames, "\", \"")+"\"",
		strings.Join(templateStrings, ", "),
	)
	_, err := p.db.Exec(stmt, valueArgs...)

	return err
}

// nullable maps empty CSV cells to NULL so typed columns accept them.
func nullable(field string) interface{} {
	if field == "" {
		return nil
	}
	return field
}
