package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one record as returned by an explorer API, before
// normalization. Field names and value types vary between explorers and
// script versions of the same explorer.
type RawRecord map[string]interface{}

// TronScan carries the block timestamp under block_ts; other timestamp-ish
// fields on the same record are not reliable, so block_ts is tried first.
var evmTimestampCandidates = []string{"timeStamp", "timestamp", "time", "block_ts", "block_timestamp"}
var tronTimestampCandidates = []string{"block_ts", "block_timestamp", "timestamp", "time", "timeStamp"}

var hashCandidates = []string{"hash", "transaction_id", "txID"}
var blockCandidates = []string{"blockNumber", "block", "block_number"}

// millisecond timestamps start around 33658-09-27 when read as seconds
const millisThreshold = int64(1e12)

// NormalizeEVM converts raw Etherscan token-transfer records into canonical
// transfer records, newest first. Records without a usable timestamp are
// skipped and counted in dropped.
func NormalizeEVM(raw []RawRecord) (records []TransferRecord, dropped int) {
	return normalize(raw, evmTimestampCandidates, false)
}

// NormalizeTron converts raw TronScan TRC20 transfer records into canonical
// transfer records, newest first. The transfer amount is scaled from quant
// assuming a 6-decimal token; records without a usable timestamp are skipped
// and counted in dropped.
func NormalizeTron(raw []RawRecord) (records []TransferRecord, dropped int) {
	return normalize(raw, tronTimestampCandidates, true)
}

func normalize(raw []RawRecord, timestampCandidates []string, scaleAmount bool) ([]TransferRecord, int) {
	records := make([]TransferRecord, 0, len(raw))
	dropped := 0

	for _, r := range raw {
		ts, ok := firstInt(r, timestampCandidates)
		if !ok {
			// cannot be ordered or boundary-checked without a timestamp
			dropped++
			continue
		}
		if ts >= millisThreshold {
			ts = ts / 1000
		}

		rec := TransferRecord{
			Timestamp: ts,
			Datetime:  time.Unix(ts, 0).UTC().Format(time.RFC3339),
			Raw:       stringify(r),
		}
		rec.Hash, _ = firstString(r, hashCandidates)
		rec.BlockNumber, _ = firstInt(r, blockCandidates)
		rec.From, _ = firstString(r, []string{"from", "from_address", "transferFromAddress", "ownerAddress"})
		rec.To, _ = firstString(r, []string{"to", "to_address", "transferToAddress", "toAddress"})
		rec.Value, _ = firstString(r, []string{"value", "quant", "amount"})

		if scaleAmount && rec.Value != "" {
			if amount, err := decimal.NewFromString(rec.Value); err == nil {
				rec.Amount = amount.Shift(-6)
			}
		}

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})

	return records, dropped
}

func firstInt(r RawRecord, candidates []string) (int64, bool) {
	for _, key := range candidates {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if n, ok := asInt64(v); ok {
			return n, true
		}
	}
	return 0, false
}

func firstString(r RawRecord, candidates []string) (string, bool) {
	for _, key := range candidates {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		s := asString(v)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		// explorer numerics survive JSON decoding as floats
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func stringify(r RawRecord) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			data, err := json.Marshal(v)
			if err == nil {
				out[k] = string(data)
			}
		default:
			out[k] = asString(v)
		}
	}
	return out
}
