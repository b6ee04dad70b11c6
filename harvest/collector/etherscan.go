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

type EtherscanConfig struct {
	Endpoints []string
	APIKey    string
	ChainID   int64

	Retry      RetryPolicy
	HTTPClient *http.Client
}

// EtherscanClient pages token transfers from an Etherscan-compatible V2 API.
// Stateless across calls except for the shared connection configuration.
type EtherscanClient struct {
	endpoints []string
	apiKey    string
	chainID   int64

	retry  RetryPolicy
	client *http.Client
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func NewEtherscanClient(config EtherscanConfig) (*EtherscanClient, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no etherscan endpoints configured")
	}

	endpoints := make([]string, 0, len(config.Endpoints))
	for _, endpoint := range config.Endpoints {
		endpoints = append(endpoints, strings.TrimSuffix(endpoint, "/"))
	}

	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &EtherscanClient{
		endpoints: endpoints,
		apiKey:    config.APIKey,
		chainID:   config.ChainID,
		retry:     config.Retry.normalized(),
		client:    client,
	}, nil
}

// FetchLatest returns the newest page of transfers for the contract,
// descending. Used to anchor the backward walk.
func (c *EtherscanClient) FetchLatest(ctx context.Context, contract string) ([]schema.RawRecord, error) {
	return c.fetch(ctx, contract, -1)
}

// FetchPage returns a descending page of transfers ending at endBlock
// (inclusive). An empty result with a nil error means the API reported
// genuinely no transactions in range; any non-nil error is a hard failure
// that already survived retries on every endpoint.
func (c *EtherscanClient) FetchPage(ctx context.Context, contract string, endBlock int64) ([]schema.RawRecord, error) {
	return c.fetch(ctx, contract, endBlock)
}

func (c *EtherscanClient) fetch(ctx context.Context, contract string, endBlock int64) ([]schema.RawRecord, error) {
	params := url.Values{}
	params.Set("chainid", strconv.FormatInt(c.chainID, 10))
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("contractaddress", contract)
	params.Set("sort", "desc")
	params.Set("apikey", c.apiKey)
	if endBlock >= 0 {
		params.Set("endblock", strconv.FormatInt(endBlock, 10))
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		records, err := c.fetchSingle(ctx, endpoint, params)
		if err == nil {
			return records, nil
		}
		lastErr = err
		logger.Debug().Str("endpoint", endpoint).Str("err", err.Error()).Msg("endpoint failed, trying next")
	}
	return nil, lastErr
}

func (c *EtherscanClient) fetchSingle(ctx context.Context, endpoint string, params url.Values) ([]schema.RawRecord, error) {
	for attempt := 0; ; attempt++ {
		data, err := c.get(ctx, endpoint, params)
		if err != nil {
			if attempt < c.retry.MaxRetries {
				utils.PrometheusPageRetries.WithLabelValues("eth").Inc()
				if serr := sleepCtx(ctx, c.retry.Linear(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, err
		}

		if data.Status == "1" {
			var records []schema.RawRecord
			if err := json.Unmarshal(data.Result, &records); err != nil {
				return nil, fmt.Errorf("malformed result payload: %w", err)
			}
			return records, nil
		}

		// status "0": genuinely empty, rate limited, or a real error
		resultText := strings.ToLower(data.Message + " " + string(data.Result))
		if strings.Contains(resultText, "no transactions found") {
			return nil, nil
		}
		if strings.Contains(resultText, "rate limit") || strings.Contains(resultText, "too many") {
			if attempt < c.retry.MaxRetries {
				utils.PrometheusPageRetries.WithLabelValues("eth").Inc()
				backoff := c.retry.Backoff(attempt)
				logger.Warn().Str("backoff", backoff.String()).Int("attempt", attempt+1).Msg("rate limited, backing off")
				if serr := sleepCtx(ctx, backoff); serr != nil {
					return nil, serr
				}
				continue
			}
		}
		return nil, fmt.Errorf("api error: %s", strings.TrimSpace(data.Message+" "+string(data.Result)))
	}
}

func (c *EtherscanClient) get(ctx context.Context, endpoint string, params url.Values) (*etherscanResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body failed: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &etherscanResponse{Status: "0", Message: "rate limit"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid status code: %d", resp.StatusCode)
	}

	var data etherscanResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parsing JSON failed: %w", err)
	}
	return &data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
