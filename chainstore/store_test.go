package chainstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/config"
)

func testAnchor() config.GenesisAnchor {
	return config.GenesisAnchor{
		Hash:         common.MustHexToHash("1111111111111111111111111111111111111111111111111111111111111111"),
		Timestamp:    1700000000,
		ZeroPrevHash: common.ZeroHash,
	}
}

func openTestStore(t *testing.T, backend string) *ChainStore {
	t.Helper()
	cfg := config.Defaults()
	cfg.ChainDBBackend = backend
	cfg.ChainDBPath = filepath.Join(t.TempDir(), "chain")

	cs, err := Open(cfg, testAnchor())
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func childBlock(index uint64, prev Block) Block {
	var hash common.Hash
	hash[0] = byte(index)
	hash[1] = byte(index >> 8)
	return Block{
		Index:               index,
		BlockHash:           hash,
		PreviousHash:        prev.BlockHash,
		Timestamp:           float64(1700000000 + index),
		MinerAddress:        "miner-1",
		WorkScore:           1.5,
		CumulativeWorkScore: prev.CumulativeWorkScore + 1.5,
		Capacity:            common.CapacityDesktop,
	}
}

func TestOpen_CreatesGenesis(t *testing.T) {
	for _, backend := range []string{"badger", "leveldb"} {
		cs := openTestStore(t, backend)

		tip, err := cs.Tip()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), tip.Index)
		assert.Equal(t, testAnchor().Hash, tip.BlockHash)
	}
}

func TestOpen_ReopenPreservesGenesisAndTip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	cfg := config.Defaults()
	cfg.ChainDBBackend = "badger"
	cfg.ChainDBPath = dir

	cs, err := Open(cfg, testAnchor())
	require.NoError(t, err)
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)
	b1 := childBlock(1, genesis)
	require.NoError(t, cs.Append(b1))
	require.NoError(t, cs.Close())

	reopened, err := Open(cfg, testAnchor())
	require.NoError(t, err)
	defer reopened.Close()

	tip, err := reopened.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tip.Index)
	assert.Equal(t, b1.BlockHash, tip.BlockHash)
}

func TestOpen_GenesisMismatchIsFatal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	cfg := config.Defaults()
	cfg.ChainDBBackend = "badger"
	cfg.ChainDBPath = dir

	cs, err := Open(cfg, testAnchor())
	require.NoError(t, err)
	require.NoError(t, cs.Close())

	other := testAnchor()
	other.Hash[0] ^= 0xff
	_, err = Open(cfg, other)
	assert.ErrorIs(t, err, ErrGenesisViolation)
}

func TestAppend_LinearChain(t *testing.T) {
	cs := openTestStore(t, "badger")
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	prev := genesis
	for i := uint64(1); i <= 5; i++ {
		b := childBlock(i, prev)
		require.NoError(t, cs.Append(b))
		prev = b
	}

	tip, err := cs.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tip.Index)
	assert.Equal(t, 7.5, tip.CumulativeWorkScore)

	blocks, err := cs.Range(0, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 6)
	for i, b := range blocks {
		assert.Equal(t, uint64(i), b.Index)
	}
}

func TestAppend_RejectsOccupiedIndex(t *testing.T) {
	cs := openTestStore(t, "badger")
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	b1 := childBlock(1, genesis)
	require.NoError(t, cs.Append(b1))

	dup := childBlock(1, genesis)
	dup.BlockHash[31] = 0xAB
	err = cs.Append(dup)
	assert.ErrorIs(t, err, ErrIndexOccupied)
}

func TestAppend_RejectsBrokenLink(t *testing.T) {
	cs := openTestStore(t, "badger")
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	b1 := childBlock(1, genesis)
	b1.PreviousHash[0] ^= 0xff
	err = cs.Append(b1)
	assert.ErrorIs(t, err, ErrBrokenLink)
}

func TestAppend_RejectsIndexZero(t *testing.T) {
	cs := openTestStore(t, "badger")
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	err = cs.Append(childBlock(0, genesis))
	assert.ErrorIs(t, err, ErrGenesisViolation)
}

func TestGetByHash_MatchesGetByIndex(t *testing.T) {
	cs := openTestStore(t, "leveldb")
	genesis, err := cs.GetByIndex(0)
	require.NoError(t, err)

	b1 := childBlock(1, genesis)
	require.NoError(t, cs.Append(b1))

	byHash, err := cs.GetByHash(b1.BlockHash)
	require.NoError(t, err)
	assert.Equal(t, b1.Index, byHash.Index)

	_, err = cs.GetByHash(common.Hash{0xff})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewest_ReturnsNewestFirst(t *testing.T) {
	cs := openTestStore(t, "badger")
	prev, err := cs.GetByIndex(0)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		b := childBlock(i, prev)
		require.NoError(t, cs.Append(b))
		prev = b
	}

	newest, err := cs.Newest(2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, uint64(3), newest[0].Index)
	assert.Equal(t, uint64(2), newest[1].Index)
}

func TestGetByIndex_NotFound(t *testing.T) {
	cs := openTestStore(t, "badger")
	_, err := cs.GetByIndex(99)
	assert.ErrorIs(t, err, ErrNotFound)
}
