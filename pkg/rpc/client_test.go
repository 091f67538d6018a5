package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(endpoints ...string) *HTTPClient {
	return NewHTTPWithOpts(Opts{Endpoints: endpoints, Token: "secret", RPS: 1000, Burst: 1000})
}

func TestHTTPClient_ConsensusStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/consensusStatus", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("authentication"))
		_, _ = w.Write([]byte(`{"bestBlock":"b","bestBlockHeight":12,"lastFinalizedBlock":"f","lastFinalizedBlockHeight":10}`))
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).ConsensusStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f", status.LastFinalizedBlock)
	assert.Equal(t, uint64(10), status.LastFinalizedBlockHeight)
	assert.Equal(t, uint64(12), status.BestBlockHeight)
}

func TestHTTPClient_ConsensusStatusMissingFinalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bestBlock":"b"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ConsensusStatus(context.Background())
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPClient_BlocksAtHeight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Height uint64 `json:"height"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body.Height {
		case 5:
			_, _ = w.Write([]byte(`["h5"]`))
		case 6:
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	hashes, err := client.BlocksAtHeight(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"h5"}, hashes)

	hashes, err = client.BlocksAtHeight(context.Background(), 6)
	require.NoError(t, err)
	assert.Empty(t, hashes)

	hashes, err = client.BlocksAtHeight(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestHTTPClient_BlockInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/blockInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"blockHash":"abc","blockHeight":42,"blockSlotTime":"2024-01-02T03:04:05.678Z","blockBaker":7,"finalized":true}`))
	}))
	defer server.Close()

	info, err := newTestClient(server.URL).BlockInfo(context.Background(), "abc")
	require.NoError(t, err)

	block := info.ToBlockModel()
	assert.Equal(t, uint64(42), block.Height)
	assert.Equal(t, "abc", block.Hash)
	assert.Equal(t, uint64(7), block.Baker)
	want := time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC).UnixMilli()
	assert.Equal(t, uint64(want), block.SlotTimeMs)
}

func TestHTTPClient_BlockInfoNullBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).BlockInfo(context.Background(), "abc")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPClient_BlockInfoNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).BlockInfo(context.Background(), "abc")
	require.ErrorIs(t, err, ErrNotAvailable)
	assert.NotErrorIs(t, err, ErrTransient)
}

func TestHTTPClient_BlockSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rewardEvents":[{"account":"A","amount":"1.5","epochMs":100,"kind":"baking"}]}`))
	}))
	defer server.Close()

	summary, err := newTestClient(server.URL).BlockSummary(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, summary.RewardEvents, 1)
	assert.Equal(t, "A", summary.RewardEvents[0].Account)
	assert.Equal(t, "1.5", summary.RewardEvents[0].Amount)
}

func TestHTTPClient_BlockSummaryBadAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rewardEvents":[{"account":"A","amount":"lots","kind":"baking"}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).BlockSummary(context.Background(), "abc")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPClient_AccountInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "H", body["blockHash"])
		assert.Equal(t, "A", body["address"])
		_, _ = w.Write([]byte(`{"accountAmount":"256","accountBaker":{"stakedAmount":"12.5","bakerId":3}}`))
	}))
	defer server.Close()

	info, err := newTestClient(server.URL).AccountInfo(context.Background(), "H", "A")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("243.5").Equal(info.Available()))
	assert.True(t, decimal.RequireFromString("12.5").Equal(info.Staked()))
}

func TestHTTPClient_AccountInfoWithoutBaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accountAmount":"10"}`))
	}))
	defer server.Close()

	info, err := newTestClient(server.URL).AccountInfo(context.Background(), "H", "A")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(info.Available()))
	assert.True(t, info.Staked().IsZero())
}

func TestHTTPClient_BirkParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"electionDifficulty":"0.025","bakers":[{"bakerAccount":"A","bakerId":1,"bakerLotteryPower":"0.25"}]}`))
	}))
	defer server.Close()

	birk, err := newTestClient(server.URL).BirkParameters(context.Background(), "H")
	require.NoError(t, err)

	power, ok := birk.LotteryPower("A")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.25").Equal(power))

	_, ok = birk.LotteryPower("B")
	assert.False(t, ok)
}

func TestHTTPClient_FailoverOnServerError(t *testing.T) {
	var badCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uptimeMs":12345}`))
	}))
	defer good.Close()

	uptime, err := newTestClient(bad.URL, good.URL).NodeUptime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), uptime)
	assert.Equal(t, int32(1), badCalls.Load())
}

func TestHTTPClient_AllEndpointsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).NodeInfo(context.Background())
	require.ErrorIs(t, err, ErrTransient)
}

func TestHTTPClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{
		Endpoints:       []string{server.URL},
		RPS:             1000,
		Burst:           1000,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})
	for i := 0; i < 4; i++ {
		_, err := client.PeerStats(context.Background())
		require.ErrorIs(t, err, ErrTransient)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url).ConsensusStatus(context.Background())
	require.ErrorIs(t, err, ErrTransient)
}

func TestHTTPClient_NodeInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/nodeInfo":
			_, _ = w.Write([]byte(`{"nodeId":"n1","bakerId":9,"isBakerCommittee":true,"peerType":"Node"}`))
		case "/v1/nodeUptime":
			_, _ = w.Write([]byte(`{"uptimeMs":60000}`))
		case "/v1/peerStats":
			_, _ = w.Write([]byte(`{"avgLatency":12.5,"peerCount":8,"avgBpsIn":100,"avgBpsOut":200}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	info, err := client.NodeInfo(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info.BakerID)
	assert.Equal(t, uint64(9), *info.BakerID)
	assert.True(t, info.IsBakerCommittee)

	uptime, err := client.NodeUptime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(60000), uptime)

	peers, err := client.PeerStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), peers.PeerCount)
}

func TestStatusError_Classification(t *testing.T) {
	assert.ErrorIs(t, &StatusError{Code: 404}, ErrNotAvailable)
	assert.ErrorIs(t, &StatusError{Code: 503}, ErrTransient)
	assert.ErrorIs(t, &StatusError{Code: 429}, ErrTransient)
	assert.ErrorIs(t, &StatusError{Code: 400}, ErrMalformedResponse)
}
