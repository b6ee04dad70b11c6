package schema

import (
	"fmt"
	"strconv"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
)

// TransferRecord is one observed token transfer in canonical form. Hash is
// the dedup key: two records with equal Hash are the same transfer.
type TransferRecord struct {
	BlockNumber int64           `json:"blockNumber"`
	Timestamp   int64           `json:"timeStamp"`
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Value       string          `json:"value"`
	Amount      decimal.Decimal `json:"amount"`
	Datetime    string          `json:"datetime"`

	// Raw carries chain-specific auxiliary fields (gas, fees, confirmations,
	// token metadata) through untouched.
	Raw map[string]string `json:"raw,omitempty"`
}

func (r TransferRecord) raw(key string) string {
	if r.Raw == nil {
		return ""
	}
	return r.Raw[key]
}

// CSVLine renders the record in the given column order. Unknown columns
// resolve through the raw passthrough fields and render empty when absent.
func (r TransferRecord) CSVLine(columns []string) []string {
	line := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "blockNumber":
			line = append(line, strconv.FormatInt(r.BlockNumber, 10))
		case "timeStamp":
			line = append(line, strconv.FormatInt(r.Timestamp, 10))
		case "hash":
			line = append(line, r.Hash)
		case "from":
			line = append(line, r.From)
		case "to":
			line = append(line, r.To)
		case "value":
			line = append(line, r.Value)
		case "amount":
			line = append(line, r.Amount.String())
		case "datetime":
			line = append(line, r.Datetime)
		default:
			line = append(line, r.raw(col))
		}
	}
	return line
}

// Transfers is the schema of the merged transfer dataset.
type Transfers struct{}

func (t Transfers) GetCSVSchema() []string {
	return []string{
		"blockNumber",
		"timeStamp",
		"hash",
		"nonce",
		"blockHash",
		"from",
		"to",
		"contractAddress",
		"value",
		"tokenName",
		"tokenSymbol",
		"tokenDecimal",
		"transactionIndex",
		"gas",
		"gasPrice",
		"gasUsed",
		"cumulativeGasUsed",
		"input",
		"confirmations",
		"datetime",
	}
}

func (t Transfers) GetBigQuerySchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "blockNumber", Type: bigquery.IntegerFieldType},
		{Name: "timeStamp", Type: bigquery.IntegerFieldType},
		{Name: "hash", Type: bigquery.StringFieldType},
		{Name: "nonce", Type: bigquery.StringFieldType},
		{Name: "blockHash", Type: bigquery.StringFieldType},
		{Name: "from", Type: bigquery.StringFieldType},
		{Name: "to", Type: bigquery.StringFieldType},
		{Name: "contractAddress", Type: bigquery.StringFieldType},
		{Name: "value", Type: bigquery.StringFieldType},
		{Name: "tokenName", Type: bigquery.StringFieldType},
		{Name: "tokenSymbol", Type: bigquery.StringFieldType},
		{Name: "tokenDecimal", Type: bigquery.StringFieldType},
		{Name: "transactionIndex", Type: bigquery.StringFieldType},
		{Name: "gas", Type: bigquery.StringFieldType},
		{Name: "gasPrice", Type: bigquery.StringFieldType},
		{Name: "gasUsed", Type: bigquery.StringFieldType},
		{Name: "cumulativeGasUsed", Type: bigquery.StringFieldType},
		{Name: "input", Type: bigquery.StringFieldType},
		{Name: "confirmations", Type: bigquery.StringFieldType},
		{Name: "datetime", Type: bigquery.TimestampFieldType},
	}
}

func (t Transfers) GetBigQueryTimePartitioning() *bigquery.TimePartitioning {
	return &bigquery.TimePartitioning{
		Field: "datetime",
		Type:  bigquery.DayPartitioningType,
	}
}

func (t Transfers) GetBigQueryClustering() *bigquery.Clustering {
	return &bigquery.Clustering{Fields: []string{"datetime"}}
}

func (t Transfers) GetPostgresCreateTableCommand(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    "blockNumber" bigint,
    "timeStamp" bigint NOT NULL,
    "hash" varchar NOT NULL,
    "nonce" varchar,
    "blockHash" varchar,
    "from" varchar,
    "to" varchar,
    "contractAddress" varchar,
    "value" varchar,
    "tokenName" varchar,
    "tokenSymbol" varchar,
    "tokenDecimal" varchar,
    "transactionIndex" varchar,
    "gas" varchar,
    "gasPrice" varchar,
    "gasUsed" varchar,
    "cumulativeGasUsed" varchar,
    "input" varchar,
    "confirmations" varchar,
    "datetime" timestamp,
    PRIMARY KEY (hash)
    )
    `, name)
}
