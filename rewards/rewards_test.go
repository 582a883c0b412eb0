package rewards

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/config"
)

func openTestChain(t *testing.T) *chainstore.ChainStore {
	t.Helper()
	cfg := config.Defaults()
	cfg.ChainDBBackend = "badger"
	cfg.ChainDBPath = filepath.Join(t.TempDir(), "chain")

	anchor := config.GenesisAnchor{
		Hash:         common.MustHexToHash("4444444444444444444444444444444444444444444444444444444444444444"),
		ZeroPrevHash: common.ZeroHash,
	}
	cs, err := chainstore.Open(cfg, anchor)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func mineBlock(t *testing.T, cs *chainstore.ChainStore, index uint64, prevHash common.Hash, miner string, workScore float64) chainstore.Block {
	t.Helper()
	b := chainstore.Block{
		Index:               index,
		BlockHash:           common.Hash{byte(index), byte(index >> 8), byte(index >> 16)},
		PreviousHash:        prevHash,
		Timestamp:           float64(1700000000 + index),
		MinerAddress:        miner,
		WorkScore:           workScore,
		CumulativeWorkScore: workScore,
		Capacity:            common.CapacityDesktop,
	}
	require.NoError(t, cs.Append(b))
	return b
}

func TestSummaryFor_FoldsMultipleBlocksForSameAddress(t *testing.T) {
	cs := openTestChain(t)
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	prev := genesis.BlockHash
	prev = mineBlock(t, cs, 1, prev, "miner-a", 2).BlockHash
	prev = mineBlock(t, cs, 2, prev, "miner-a", 3).BlockHash
	mineBlock(t, cs, 3, prev, "miner-b", 10)

	tr, err := New(cs)
	require.NoError(t, err)

	summary, err := tr.SummaryFor("miner-a")
	require.NoError(t, err)
	assert.Equal(t, 5.0, summary.TotalRewards)
	assert.Equal(t, 2, summary.BlocksMined)
}

func TestSummaryFor_UnknownAddressReturnsZeroSummary(t *testing.T) {
	cs := openTestChain(t)
	tr, err := New(cs)
	require.NoError(t, err)

	summary, err := tr.SummaryFor("never-mined")
	require.NoError(t, err)
	assert.Equal(t, 0.0, summary.TotalRewards)
	assert.Equal(t, 0, summary.BlocksMined)
}

// TestSummaryFor_SurvivesCacheEviction exercises the exact failure the
// bounded LRU alone would produce: an address mines, enough distinct
// other addresses mine afterward to push its cache entry out, and a
// later SummaryFor call for the evicted address must still report its
// real cumulative total rather than silently resetting to zero.
func TestSummaryFor_SurvivesCacheEviction(t *testing.T) {
	cs := openTestChain(t)
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	const cacheSize = 4
	tr, err := newWithCacheSize(cs, cacheSize)
	require.NoError(t, err)

	prev := genesis.BlockHash
	prev = mineBlock(t, cs, 1, prev, "early-miner", 7).BlockHash

	var idx uint64 = 2
	for i := 0; i < cacheSize+2; i++ {
		prev = mineBlock(t, cs, idx, prev, fmt.Sprintf("filler-%d", i), 1).BlockHash
		idx++
	}

	summary, err := tr.SummaryFor("early-miner")
	require.NoError(t, err)
	assert.Equal(t, 7.0, summary.TotalRewards)
	assert.Equal(t, 1, summary.BlocksMined)
}

func TestSummaryFor_IncrementalCallsOnlyRescanNewBlocks(t *testing.T) {
	cs := openTestChain(t)
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	tr, err := New(cs)
	require.NoError(t, err)

	prev := mineBlock(t, cs, 1, genesis.BlockHash, "miner-a", 2).BlockHash
	first, err := tr.SummaryFor("miner-a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, first.TotalRewards)

	mineBlock(t, cs, 2, prev, "miner-a", 4)
	second, err := tr.SummaryFor("miner-a")
	require.NoError(t, err)
	assert.Equal(t, 6.0, second.TotalRewards)
	assert.Equal(t, 2, second.BlocksMined)
}
