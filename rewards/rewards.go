// Package rewards derives a cumulative reward summary per miner address
// from already-committed chain data. It computes nothing new and
// distributes nothing; per the reward-accounting non-goal, this is a
// read-only report, not an accounting system.
package rewards

import (
	"sync"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/log"
)

// Summary is the derived reward report for one miner address.
type Summary struct {
	Address      string  `json:"address"`
	TotalRewards float64 `json:"total_rewards"`
	BlocksMined  int     `json:"blocks_mined"`
}

// Tracker answers SummaryFor by scanning the Chain Store. Because the
// store is append-only, a per-address running total only ever needs to
// extend forward from the last block it has already folded in, so the
// tracker keeps a small cache of summaries plus the index of the last
// block it scanned.
type Tracker struct {
	chain *chainstore.ChainStore

	mu          sync.Mutex
	cache       common.Cache
	scannedThru int64 // -1 until the first scan

	logger log.Logger
}

const summaryCacheSize = 4096

// New constructs a Tracker over chain. It does not scan until the first
// SummaryFor call.
func New(chain *chainstore.ChainStore) (*Tracker, error) {
	return newWithCacheSize(chain, summaryCacheSize)
}

func newWithCacheSize(chain *chainstore.ChainStore, size int) (*Tracker, error) {
	cache, err := common.NewLRUCache(size)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		chain:       chain,
		cache:       cache,
		scannedThru: -1,
		logger:      log.NewModuleLogger(log.Rewards),
	}, nil
}

// SummaryFor returns the cumulative reward summary for address, folding
// in any blocks committed since the last call.
func (t *Tracker) SummaryFor(address string) (Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.catchUp(); err != nil {
		return Summary{}, err
	}

	if cached, ok := t.cache.Get(address); ok {
		return cached.(Summary), nil
	}

	// Cache miss: address has never mined, or its entry fell out of the
	// bounded LRU. scannedThru only moves forward, so there is no way to
	// tell these apart from the cache alone; re-derive the total from the
	// Chain Store itself rather than returning a false zero.
	summary, err := t.deriveFromChain(address)
	if err != nil {
		return Summary{}, err
	}
	t.cache.Add(address, summary)
	return summary, nil
}

// deriveFromChain recomputes address's summary by rescanning every block
// folded so far. Only reached on an LRU miss for an address that may
// already have history, so it trades a full rescan for correctness rather
// than trusting the cache's absence of an entry.
func (t *Tracker) deriveFromChain(address string) (Summary, error) {
	summary := Summary{Address: address}
	if t.scannedThru <= 0 {
		return summary, nil
	}
	blocks, err := t.chain.Range(1, uint64(t.scannedThru))
	if err != nil {
		return Summary{}, err
	}
	for _, b := range blocks {
		if b.MinerAddress != address {
			continue
		}
		summary.TotalRewards += b.WorkScore
		summary.BlocksMined++
	}
	return summary, nil
}

func (t *Tracker) catchUp() error {
	tip, err := t.chain.Tip()
	if err != nil {
		return err
	}
	if int64(tip.Index) <= t.scannedThru {
		return nil
	}

	from := uint64(0)
	if t.scannedThru >= 0 {
		from = uint64(t.scannedThru) + 1
	}

	blocks, err := t.chain.Range(from, tip.Index)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		t.foldBlock(b)
	}
	t.scannedThru = int64(tip.Index)
	return nil
}

func (t *Tracker) foldBlock(b chainstore.Block) {
	if b.Index == 0 {
		return // genesis carries no miner reward
	}
	existing, _ := t.cache.Get(b.MinerAddress)
	summary, _ := existing.(Summary)
	summary.Address = b.MinerAddress
	summary.TotalRewards += b.WorkScore
	summary.BlocksMined++
	t.cache.Add(b.MinerAddress, summary)
}
