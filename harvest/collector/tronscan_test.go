package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTronClient_FetchTransfersPage(t *testing.T) {
	var gotQuery map[string][]string
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("TRON-PRO-API-KEY")
		fmt.Fprint(w, `{"total": 2, "token_transfers": [
			{"transaction_id":"a","block_ts":1700000000000},
			{"transaction_id":"b","block_ts":1700000001000}
		]}`)
	}))
	defer server.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{server.URL},
		APIKey:    "secret",
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchTransfersPage(context.Background(), "Tcontract", 1000, 2000, 50, 25)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0]["transaction_id"])

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, []string{"Tcontract"}, gotQuery["contract_address"])
	assert.Equal(t, []string{"1000"}, gotQuery["start_timestamp"])
	assert.Equal(t, []string{"2000"}, gotQuery["end_timestamp"])
	assert.Equal(t, []string{"-timestamp"}, gotQuery["sort"])
	assert.Equal(t, []string{"50"}, gotQuery["start"])
	assert.Equal(t, []string{"25"}, gotQuery["limit"])
}

func TestTronClient_ListKeyVariants(t *testing.T) {
	for _, key := range []string{"token_transfers", "trc20_transfers", "trc20Transfers", "data"} {
		key := key
		t.Run(key, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"%s": [{"transaction_id":"a"}]}`, key)
			}))
			defer server.Close()

			client, err := NewTronClient(TronConfig{
				Endpoints: []string{server.URL},
				Retry:     testRetry(),
			})
			require.NoError(t, err)

			records, err := client.FetchTransfersPage(context.Background(), "T", 0, 1, 0, 10)
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestTronClient_EmptyWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total": 0, "token_transfers": []}`)
	}))
	defer server.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchTransfersPage(context.Background(), "T", 0, 1, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTronClient_RetriesOn429(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"token_transfers": [{"transaction_id":"a"}]}`)
	}))
	defer server.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchTransfersPage(context.Background(), "T", 0, 1, 0, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestTronClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_transfers": [{"transaction_id":"a"}]}`)
	}))
	defer server.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	assert.NoError(t, client.Ping(context.Background(), "T"))
}

func TestTronClient_PingEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_transfers": []}`)
	}))
	defer server.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	assert.Error(t, client.Ping(context.Background(), "T"))
}

func TestTronClient_FallsBackToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_transfers": [{"transaction_id":"a"}]}`)
	}))
	defer good.Close()

	client, err := NewTronClient(TronConfig{
		Endpoints: []string{bad.URL, good.URL},
		Retry:     RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	records, err := client.FetchTransfersPage(context.Background(), "T", 0, 1, 0, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
