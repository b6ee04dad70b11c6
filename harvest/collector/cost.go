package collector

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tokenflow/harvester/schema"
)

var costFields = []string{
	"fee",
	"energy_fee",
	"net_fee",
	"energy_usage_total",
	"energy_usage",
	"net_usage",
	"energy_penalty_total",
	"energy_penalty_usage",
	"energy_penalty_fee",
}

// sun per TRX
const trxScale = 1_000_000

// FetchTxCost looks up fee/energy detail for one transaction. Lookup
// failures degrade to a cost_pending placeholder so a batch never aborts on
// a single transaction.
func (c *TronClient) FetchTxCost(ctx context.Context, hash string) map[string]string {
	params := url.Values{}
	params.Set("hash", hash)

	data, err := c.get(ctx, "/api/transaction-info", params)
	if err != nil || len(data) == 0 {
		return map[string]string{"hash": hash, "cost_pending": "1"}
	}

	var cost map[string]json.RawMessage
	if raw, ok := data["cost"]; ok {
		_ = json.Unmarshal(raw, &cost)
	}
	var receipt map[string]json.RawMessage
	if raw, ok := data["receipt"]; ok {
		_ = json.Unmarshal(raw, &receipt)
	}

	out := map[string]string{"hash": hash}
	for _, field := range costFields {
		if v, ok := costValue(cost, receipt, field); ok {
			out[field] = strconv.FormatInt(v, 10)
		}
	}
	for _, field := range []string{"fee", "energy_fee", "net_fee"} {
		if raw, ok := out[field]; ok {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				out[field+"_trx"] = strconv.FormatFloat(float64(v)/trxScale, 'f', -1, 64)
			}
		}
	}
	if raw, ok := data["contractRet"]; ok {
		var ret string
		if err := json.Unmarshal(raw, &ret); err == nil {
			out["contract_ret"] = ret
		}
	}
	return out
}

func costValue(cost, receipt map[string]json.RawMessage, field string) (int64, bool) {
	for _, m := range []map[string]json.RawMessage{cost, receipt} {
		if m == nil {
			continue
		}
		if raw, ok := m[field]; ok {
			var v int64
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// FetchCosts resolves cost detail for a batch of hashes through a bounded
// worker pool with per-request pacing. Results are keyed by hash with no
// ordering guarantee; duplicates in the input are resolved once.
func (c *TronClient) FetchCosts(ctx context.Context, hashes []string, workers int, throttle time.Duration) map[string]map[string]string {
	seen := make(map[string]struct{}, len(hashes))
	unique := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, h)
	}

	results := make(map[string]map[string]string, len(unique))
	if len(unique) == 0 {
		return results
	}

	if workers <= 1 || len(unique) <= 3 {
		for _, h := range unique {
			results[h] = c.FetchTxCost(ctx, h)
			if sleepCtx(ctx, throttle) != nil {
				return results
			}
		}
		return results
	}

	jobs := make(chan string, len(unique))
	for _, h := range unique {
		jobs <- h
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for h := range jobs {
				res := c.FetchTxCost(ctx, h)
				mu.Lock()
				results[h] = res
				mu.Unlock()
				if sleepCtx(ctx, throttle) != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	return results
}

// EnrichWithCosts merges cost lookups into the records' passthrough fields.
func EnrichWithCosts(records []schema.TransferRecord, costs map[string]map[string]string) {
	for i := range records {
		cost, ok := costs[records[i].Hash]
		if !ok {
			continue
		}
		if records[i].Raw == nil {
			records[i].Raw = make(map[string]string, len(cost))
		}
		for k, v := range cost {
			if k == "hash" {
				continue
			}
			records[i].Raw[k] = v
		}
	}
}
