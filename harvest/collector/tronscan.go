package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/utils"
)

// transfer lists appear under different keys depending on API version
var tronListKeys = []string{"token_transfers", "trc20_transfers", "trc20Transfers", "data"}

type TronConfig struct {
	Endpoints []string
	APIKey    string

	Retry      RetryPolicy
	HTTPClient *http.Client
}

// TronClient pages TRC20 transfers from one or more TronScan-compatible base
// endpoints, tried in priority order.
type TronClient struct {
	endpoints []string
	apiKey    string

	retry  RetryPolicy
	client *http.Client
}

func NewTronClient(config TronConfig) (*TronClient, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no tronscan endpoints configured")
	}

	endpoints := make([]string, 0, len(config.Endpoints))
	for _, endpoint := range config.Endpoints {
		endpoints = append(endpoints, strings.TrimSuffix(endpoint, "/"))
	}

	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &TronClient{
		endpoints: endpoints,
		apiKey:    config.APIKey,
		retry:     config.Retry.normalized(),
		client:    client,
	}, nil
}

// FetchTransfersPage fetches a single newest-first transfers page for the
// contract within [startMs, endMs], at the given offset. An empty result
// with a nil error is the genuine end-of-window signal.
func (c *TronClient) FetchTransfersPage(ctx context.Context, contract string, startMs, endMs int64, offset, limit int) ([]schema.RawRecord, error) {
	params := url.Values{}
	params.Set("contract_address", contract)
	params.Set("start_timestamp", strconv.FormatInt(startMs, 10))
	params.Set("end_timestamp", strconv.FormatInt(endMs, 10))
	params.Set("sort", "-timestamp")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("start", strconv.Itoa(offset))
	params.Set("count", "true")

	data, err := c.get(ctx, "/api/token_trc20/transfers", params)
	if err != nil {
		return nil, err
	}
	return extractList(data), nil
}

// Ping checks connectivity against the transfers endpoint using a one-row
// page over the last hour.
func (c *TronClient) Ping(ctx context.Context, contract string) error {
	nowMs := time.Now().UnixMilli()
	params := url.Values{}
	params.Set("contract_address", contract)
	params.Set("limit", "1")
	params.Set("sort", "-timestamp")
	params.Set("start", "0")
	params.Set("start_timestamp", strconv.FormatInt(nowMs-3600000, 10))
	params.Set("end_timestamp", strconv.FormatInt(nowMs, 10))

	data, err := c.get(ctx, "/api/token_trc20/transfers", params)
	if err != nil {
		return err
	}
	if len(extractList(data)) == 0 {
		// could be rate limit, auth, or a quiet hour; soft failure
		return errors.New("no data")
	}
	return nil
}

// get runs a GET across the configured base endpoints with bounded backoff
// per endpoint: exponential on 429, linear on other failures.
func (c *TronClient) get(ctx context.Context, path string, params url.Values) (map[string]json.RawMessage, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		data, err := c.getSingle(ctx, endpoint, path, params)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logger.Debug().Str("endpoint", endpoint).Str("err", err.Error()).Msg("endpoint failed, trying next")
	}
	return nil, lastErr
}

func (c *TronClient) getSingle(ctx context.Context, endpoint, path string, params url.Values) (map[string]json.RawMessage, error) {
	reqURL := endpoint + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			utils.PrometheusPageRetries.WithLabelValues("tron").Inc()
			if serr := sleepCtx(ctx, c.retry.Linear(attempt)); serr != nil {
				return nil, serr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK && readErr == nil:
			var data map[string]json.RawMessage
			if err := json.Unmarshal(body, &data); err != nil {
				return nil, fmt.Errorf("parsing JSON failed: %w", err)
			}
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			utils.PrometheusPageRetries.WithLabelValues("tron").Inc()
			if serr := sleepCtx(ctx, c.retry.Backoff(attempt)); serr != nil {
				return nil, serr
			}
		default:
			lastErr = fmt.Errorf("invalid status code: %d", resp.StatusCode)
			utils.PrometheusPageRetries.WithLabelValues("tron").Inc()
			if serr := sleepCtx(ctx, c.retry.Linear(attempt)); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, lastErr
}

func extractList(data map[string]json.RawMessage) []schema.RawRecord {
	for _, key := range tronListKeys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		var records []schema.RawRecord
		if err := json.Unmarshal(raw, &records); err == nil && records != nil {
			return records
		}
	}
	return nil
}
