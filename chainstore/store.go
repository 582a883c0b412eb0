// Package chainstore is the persistent, crash-safe, append-only store of
// committed blocks. It is the single source of truth for "latest block"
// and chain history; nothing else in this tree is allowed to hold a
// second copy of committed state.
package chainstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	pkgerrors "github.com/pkg/errors"

	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/config"
	"github.com/coinjecture/node/log"
)

const (
	blockKeyPrefix = 'b'
	hashKeyPrefix  = 'h'
)

var tipMetaKey = []byte("meta:tip")

// cacheBytesDefault sizes the fastcache-backed hot-block cache; it holds
// recently read or appended blocks, which covers the two hottest read
// paths — gossip catch-up re-reads and repeated polling of /v1/data/block.
const cacheBytesDefault = 32 * 1024 * 1024

// ChainStore is the persistent append-only store of committed Blocks,
// indexed by index (primary) and block_hash (secondary).
type ChainStore struct {
	kv    kvStore
	cache *fastcache.Cache

	mu       sync.RWMutex
	tipIndex uint64
	tipSet   bool

	genesis config.GenesisAnchor
	logger  log.Logger
}

// Open opens (creating if absent) a ChainStore at cfg.ChainDBPath using the
// backend named by cfg.ChainDBBackend ("badger" or "leveldb"), and ensures
// the genesis block is present and matches anchor bit-for-bit. This is the
// one place ErrGenesisViolation can be raised at startup.
func Open(cfg config.Config, anchor config.GenesisAnchor) (*ChainStore, error) {
	kv, err := openBackend(cfg.ChainDBBackend, cfg.ChainDBPath)
	if err != nil {
		return nil, err
	}

	cs := &ChainStore{
		kv:      kv,
		cache:   fastcache.New(cacheBytesDefault),
		genesis: anchor,
		logger:  log.NewModuleLogger(log.ChainStore),
	}

	if err := cs.ensureGenesis(); err != nil {
		kv.Close()
		return nil, err
	}
	if err := cs.loadTip(); err != nil {
		kv.Close()
		return nil, err
	}
	return cs, nil
}

func openBackend(backend, dir string) (kvStore, error) {
	switch backend {
	case "", "badger":
		return openBadger(dir)
	case "leveldb":
		return openLevelDB(dir)
	default:
		return nil, fmt.Errorf("chainstore: unknown backend %q", backend)
	}
}

func (cs *ChainStore) ensureGenesis() error {
	existing, err := cs.GetByIndex(0)
	if err == ErrNotFound {
		genesis := Block{
			Index:               0,
			BlockHash:           cs.genesis.Hash,
			PreviousHash:        cs.genesis.ZeroPrevHash,
			Timestamp:           cs.genesis.Timestamp,
			MinerAddress:        "GENESIS",
			WorkScore:           0,
			CumulativeWorkScore: 0,
			MerkleRoot:          common.Hash{},
		}
		return cs.writeBlock(genesis)
	}
	if err != nil {
		return err
	}
	if existing.BlockHash != cs.genesis.Hash || existing.PreviousHash != cs.genesis.ZeroPrevHash ||
		existing.Timestamp != cs.genesis.Timestamp {
		return pkgerrors.Wrapf(ErrGenesisViolation, "stored genesis %s does not match configured anchor %s",
			existing.BlockHash, cs.genesis.Hash)
	}
	return nil
}

func (cs *ChainStore) loadTip() error {
	raw, err := cs.kv.Get(tipMetaKey)
	if err == errNotFound {
		cs.mu.Lock()
		cs.tipIndex, cs.tipSet = 0, true
		cs.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.tipIndex = binary.BigEndian.Uint64(raw)
	cs.tipSet = true
	cs.mu.Unlock()
	return nil
}

// Append commits block at block.Index, returning ErrIndexOccupied if that
// index is already taken or ErrBrokenLink if it does not extend the chain
// at index-1.
func (cs *ChainStore) Append(block Block) error {
	if block.Index == 0 {
		return fmt.Errorf("%w: index 0 is reserved for genesis", ErrGenesisViolation)
	}

	if _, err := cs.GetByIndex(block.Index); err == nil {
		return ErrIndexOccupied
	} else if err != ErrNotFound {
		return err
	}

	prev, err := cs.GetByIndex(block.Index - 1)
	if err == ErrNotFound {
		return fmt.Errorf("%w: no block at index %d to extend", ErrBrokenLink, block.Index-1)
	}
	if err != nil {
		return err
	}
	if block.PreviousHash != prev.BlockHash {
		return fmt.Errorf("%w: block %d previous_hash %s != tip hash %s",
			ErrBrokenLink, block.Index, block.PreviousHash, prev.BlockHash)
	}

	if err := cs.writeBlock(block); err != nil {
		return err
	}

	cs.mu.Lock()
	if block.Index > cs.tipIndex || !cs.tipSet {
		cs.tipIndex = block.Index
		cs.tipSet = true
	}
	cs.mu.Unlock()
	return nil
}

// writeBlock batches the block body and both index entries so a crash
// mid-write never leaves a block visible without its indexes, or vice
// versa.
func (cs *ChainStore) writeBlock(block Block) error {
	payload, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("chainstore: encoding block %d: %w", block.Index, err)
	}

	idxBytes := encodeIndex(block.Index)

	batch := cs.kv.NewBatch()
	if err := batch.Put(blockKey(block.Index), payload); err != nil {
		return err
	}
	if err := batch.Put(hashKey(block.BlockHash), idxBytes); err != nil {
		return err
	}
	if err := batch.Put(tipMetaKey, idxBytes); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("chainstore: writing block %d: %w", block.Index, err)
	}

	cs.cache.Set(blockKey(block.Index), payload)
	cs.cache.Set(hashKey(block.BlockHash), idxBytes)
	return nil
}

// Tip returns the block with the highest committed index, or the genesis
// block if nothing else has been committed yet.
func (cs *ChainStore) Tip() (Block, error) {
	cs.mu.RLock()
	idx := cs.tipIndex
	cs.mu.RUnlock()
	return cs.GetByIndex(idx)
}

// TipIndex is a cheap accessor for callers (e.g. the gossip listener) that
// only need the number, not the full block.
func (cs *ChainStore) TipIndex() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.tipIndex
}

func (cs *ChainStore) GetByIndex(i uint64) (Block, error) {
	key := blockKey(i)
	if cached, ok := cs.cache.HasGet(nil, key); ok {
		var b Block
		if err := json.Unmarshal(cached, &b); err != nil {
			return Block{}, fmt.Errorf("chainstore: decoding cached block %d: %w", i, err)
		}
		return b, nil
	}

	raw, err := cs.kv.Get(key)
	if err == errNotFound {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, err
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, fmt.Errorf("chainstore: decoding block %d: %w", i, err)
	}
	cs.cache.Set(key, raw)
	return b, nil
}

func (cs *ChainStore) GetByHash(h common.Hash) (Block, error) {
	key := hashKey(h)
	if cached, ok := cs.cache.HasGet(nil, key); ok {
		return cs.GetByIndex(binary.BigEndian.Uint64(cached))
	}
	raw, err := cs.kv.Get(key)
	if err == errNotFound {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, err
	}
	cs.cache.Set(key, raw)
	return cs.GetByIndex(binary.BigEndian.Uint64(raw))
}

// Range returns a finite, non-restartable snapshot of blocks with index in
// [from, to], stopping early (without error) if it reaches a gap — which
// under I1 should never happen for indexes at or below the tip.
func (cs *ChainStore) Range(from, to uint64) ([]Block, error) {
	if to < from {
		return nil, nil
	}
	blocks := make([]Block, 0, to-from+1)
	for i := from; i <= to; i++ {
		b, err := cs.GetByIndex(i)
		if err == ErrNotFound {
			break
		}
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Newest returns the n most recently committed blocks, newest first.
func (cs *ChainStore) Newest(n int) ([]Block, error) {
	tip, err := cs.Tip()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	from := uint64(0)
	if tip.Index+1 > uint64(n) {
		from = tip.Index + 1 - uint64(n)
	}
	blocks, err := cs.Range(from, tip.Index)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

func (cs *ChainStore) Close() error {
	return cs.kv.Close()
}

func blockKey(i uint64) []byte {
	key := make([]byte, 9)
	key[0] = blockKeyPrefix
	binary.BigEndian.PutUint64(key[1:], i)
	return key
}

func hashKey(h common.Hash) []byte {
	key := make([]byte, 1+common.HashLength)
	key[0] = hashKeyPrefix
	copy(key[1:], h[:])
	return key
}

func encodeIndex(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
