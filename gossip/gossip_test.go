package gossip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/config"
	"github.com/coinjecture/node/consensus"
	"github.com/coinjecture/node/gossip/equilibrium"
	"github.com/coinjecture/node/ingestqueue"
)

func testAnchor() config.GenesisAnchor {
	return config.GenesisAnchor{
		Hash:         common.MustHexToHash("3333333333333333333333333333333333333333333333333333333333333333"),
		ZeroPrevHash: common.ZeroHash,
	}
}

func openTestChain(t *testing.T) *chainstore.ChainStore {
	t.Helper()
	cfg := config.Defaults()
	cfg.ChainDBBackend = "badger"
	cfg.ChainDBPath = filepath.Join(t.TempDir(), "chain")
	cs, err := chainstore.Open(cfg, testAnchor())
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func openTestQueue(t *testing.T) ingestqueue.Queue {
	t.Helper()
	cfg := config.Defaults()
	cfg.IngestDBBackend = "leveldb"
	cfg.IngestDBPath = filepath.Join(t.TempDir(), "ingest")
	q, err := ingestqueue.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBroadcastOnce_SuccessIncrementsHealth(t *testing.T) {
	var gotTip uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body tipAnnouncement
		json.NewDecoder(r.Body).Decode(&body)
		gotTip = body.TipIndex
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cs := openTestChain(t)
	q := openTestQueue(t)
	ctl := equilibrium.New(14*time.Second, 2*time.Second, 600*time.Second)

	g := New(cs, q, ctl, []string{srv.Listener.Addr().String()}, 64, 100, "")
	g.broadcastOnce()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, uint64(0), gotTip)

	peers := g.Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].healthy(time.Now()))
}

func TestBroadcastOnce_FailureBacksOffPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cs := openTestChain(t)
	q := openTestQueue(t)
	ctl := equilibrium.New(14*time.Second, 2*time.Second, 600*time.Second)

	g := New(cs, q, ctl, []string{srv.Listener.Addr().String()}, 64, 100, "")
	g.broadcastOnce()

	// broadcastOnce dispatches asynchronously; give the goroutine a moment.
	time.Sleep(50 * time.Millisecond)

	peers := g.Peers()
	require.Len(t, peers, 1)
	assert.False(t, peers[0].healthy(time.Now()))
}

func TestListenOnce_CatchesUpFromAheadPeer(t *testing.T) {
	cs := openTestChain(t)
	q := openTestQueue(t)
	ctl := equilibrium.New(14*time.Second, 2*time.Second, 600*time.Second)

	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	remoteBlock := chainstore.Block{
		Index:               1,
		BlockHash:           common.Hash{0xAB},
		PreviousHash:        genesis.BlockHash,
		Timestamp:           1700000001,
		MinerAddress:        "remote-miner",
		WorkScore:           1,
		CumulativeWorkScore: 1,
		Capacity:            common.CapacityServer,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/data/block/latest":
			json.NewEncoder(w).Encode(struct {
				Status string           `json:"status"`
				Data   chainstore.Block `json:"data"`
			}{Status: "success", Data: remoteBlock})
		case "/v1/data/blocks/range":
			json.NewEncoder(w).Encode(blocksResponse{Status: "success", Data: []chainstore.Block{remoteBlock}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := New(cs, q, ctl, []string{srv.Listener.Addr().String()}, 64, 100, "")
	g.listenOnce()

	iter, err := q.IterUnprocessed(context.Background())
	require.NoError(t, err)
	defer iter.Close()

	evt, ok := iter.Next()
	require.True(t, ok)
	assert.Equal(t, "gossip:"+remoteBlock.BlockHash.Hex(), evt.EventID)
	assert.Equal(t, ingestqueue.OriginGossip, evt.Origin)
}

// TestListenOnce_CatchUpEventCommitsViaConsensus drives the catch-up event
// listenOnce enqueues through a real consensus.Engine tick, proving the
// synthetic event — signature-less because it was reconstructed from a
// peer's already-committed block rather than submitted by a miner — is
// actually accepted and appended, not merely queued.
func TestListenOnce_CatchUpEventCommitsViaConsensus(t *testing.T) {
	cs := openTestChain(t)
	q := openTestQueue(t)
	ctl := equilibrium.New(14*time.Second, 2*time.Second, 600*time.Second)

	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	remoteBlock := chainstore.Block{
		Index:               1,
		BlockHash:           common.Hash{0xAB},
		PreviousHash:        genesis.BlockHash,
		Timestamp:           1700000001,
		MinerAddress:        "remote-miner",
		WorkScore:           1,
		CumulativeWorkScore: 1,
		Capacity:            common.CapacityServer,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/data/block/latest":
			json.NewEncoder(w).Encode(struct {
				Status string           `json:"status"`
				Data   chainstore.Block `json:"data"`
			}{Status: "success", Data: remoteBlock})
		case "/v1/data/blocks/range":
			json.NewEncoder(w).Encode(blocksResponse{Status: "success", Data: []chainstore.Block{remoteBlock}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := New(cs, q, ctl, []string{srv.Listener.Addr().String()}, 64, 100, "")
	g.listenOnce()

	eng := consensus.New(cs, q, 5*time.Millisecond, 100)
	require.NoError(t, eng.CheckStartupConsistency())
	eng.Start()
	defer eng.Stop()

	require.Eventually(t, func() bool {
		tip, err := cs.Tip()
		return err == nil && tip.Index == remoteBlock.Index
	}, 2*time.Second, 10*time.Millisecond, "catch-up event was never committed by consensus")

	tip, err := cs.Tip()
	require.NoError(t, err)
	assert.Equal(t, remoteBlock.BlockHash, tip.BlockHash)
	assert.Equal(t, remoteBlock.MinerAddress, tip.MinerAddress)
}
