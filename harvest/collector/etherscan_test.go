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

func testRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}
}

func TestEtherscanClient_FetchPage(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xabc"}
		]}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		APIKey:    "key",
		ChainID:   1,
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchPage(context.Background(), "0xcontract", 12345)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "0xabc", records[0]["hash"])

	assert.Equal(t, []string{"tokentx"}, gotQuery["action"])
	assert.Equal(t, []string{"0xcontract"}, gotQuery["contractaddress"])
	assert.Equal(t, []string{"desc"}, gotQuery["sort"])
	assert.Equal(t, []string{"12345"}, gotQuery["endblock"])
}

func TestEtherscanClient_FetchLatestOmitsEndBlock(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[]}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	_, err = client.FetchLatest(context.Background(), "0xcontract")
	require.NoError(t, err)
	_, present := gotQuery["endblock"]
	assert.False(t, present)
}

func TestEtherscanClient_NoTransactionsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchPage(context.Background(), "0xcontract", 100)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestEtherscanClient_RetriesRateLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`)
			return
		}
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[{"hash":"0xabc","timeStamp":"1"}]}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchPage(context.Background(), "0xcontract", 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestEtherscanClient_Retries429Status(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[{"hash":"0xabc","timeStamp":"1"}]}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	records, err := client.FetchPage(context.Background(), "0xcontract", 100)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEtherscanClient_FallsBackToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[{"hash":"0xabc","timeStamp":"1"}]}`)
	}))
	defer good.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{bad.URL, good.URL},
		Retry:     RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	records, err := client.FetchPage(context.Background(), "0xcontract", 100)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEtherscanClient_HardAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(EtherscanConfig{
		Endpoints: []string{server.URL},
		Retry:     testRetry(),
	})
	require.NoError(t, err)

	_, err = client.FetchPage(context.Background(), "0xcontract", 100)
	assert.Error(t, err)
}

func TestNewEtherscanClient_RequiresEndpoints(t *testing.T) {
	_, err := NewEtherscanClient(EtherscanConfig{})
	assert.Error(t, err)
}
