package gossip

import (
	"time"

	"github.com/coinjecture/node/common"
)

// PeerTip is one entry in the peer table: a remote node's last-known
// chain position plus the bookkeeping the health scorer needs.
type PeerTip struct {
	PeerAddress string      `json:"peer_address"`
	TipIndex    uint64      `json:"tip_index"`
	TipHash     common.Hash `json:"tip_hash"`
	LastSeen    time.Time   `json:"last_seen"`
	RTTEstimate time.Duration `json:"rtt_estimate"`

	// usefulBlocks counts blocks this peer has supplied that were
	// actually integrated; the cleanup loop's "most-recent-useful"
	// eviction policy ranks on this before last_seen.
	usefulBlocks int

	failureStreak int
	backoffUntil  time.Time
}

func (p *PeerTip) healthy(now time.Time) bool {
	return now.After(p.backoffUntil)
}

// recordFailure applies exponential backoff: min(backoffMax, base*2^streak).
func (p *PeerTip) recordFailure(now time.Time, base, max time.Duration) {
	p.failureStreak++
	backoff := base << uint(p.failureStreak)
	if backoff <= 0 || backoff > max {
		backoff = max
	}
	p.backoffUntil = now.Add(backoff)
}

func (p *PeerTip) recordSuccess(now time.Time) {
	p.failureStreak = 0
	p.backoffUntil = time.Time{}
	p.LastSeen = now
}

// peerTable is an arena of PeerTip plus an address->index map, so peers
// are referenced by stable integer slot rather than pointer: the cleanup
// loop compacts the arena by swap-removal, and a slot's contents are
// valid only so long as byAddr still maps to it.
type peerTable struct {
	cap     int
	arena   []PeerTip
	byAddr  map[string]int
}

func newPeerTable(capacity int) *peerTable {
	return &peerTable{
		cap:    capacity,
		arena:  make([]PeerTip, 0, capacity),
		byAddr: make(map[string]int, capacity),
	}
}

func (t *peerTable) upsert(addr string, now time.Time) *PeerTip {
	if idx, ok := t.byAddr[addr]; ok {
		return &t.arena[idx]
	}
	if len(t.arena) >= t.cap {
		t.evictLeastUseful()
	}
	t.arena = append(t.arena, PeerTip{PeerAddress: addr, LastSeen: now})
	idx := len(t.arena) - 1
	t.byAddr[addr] = idx
	return &t.arena[idx]
}

func (t *peerTable) get(addr string) (*PeerTip, bool) {
	idx, ok := t.byAddr[addr]
	if !ok {
		return nil, false
	}
	return &t.arena[idx], true
}

func (t *peerTable) all() []PeerTip {
	out := make([]PeerTip, len(t.arena))
	copy(out, t.arena)
	return out
}

func (t *peerTable) len() int { return len(t.arena) }

// evictStale removes every peer whose last_seen predates the cutoff.
func (t *peerTable) evictStale(cutoff time.Time) {
	for addr, idx := range t.byAddr {
		if t.arena[idx].LastSeen.Before(cutoff) {
			t.removeAt(addr, idx)
		}
	}
}

// evictLeastUseful drops the single worst peer by the "most-recent-useful"
// ranking: fewest usefulBlocks first, oldest last_seen as a tiebreak.
func (t *peerTable) evictLeastUseful() {
	if len(t.arena) == 0 {
		return
	}
	worstAddr := t.arena[0].PeerAddress
	worstIdx := 0
	for i := 1; i < len(t.arena); i++ {
		p := &t.arena[i]
		w := &t.arena[worstIdx]
		if p.usefulBlocks < w.usefulBlocks ||
			(p.usefulBlocks == w.usefulBlocks && p.LastSeen.Before(w.LastSeen)) {
			worstIdx = i
			worstAddr = p.PeerAddress
		}
	}
	t.removeAt(worstAddr, worstIdx)
}

// removeAt swap-removes the arena slot at idx and fixes up the moved
// peer's index in byAddr.
func (t *peerTable) removeAt(addr string, idx int) {
	last := len(t.arena) - 1
	t.arena[idx] = t.arena[last]
	t.arena = t.arena[:last]
	delete(t.byAddr, addr)
	if idx != last {
		t.byAddr[t.arena[idx].PeerAddress] = idx
	}
}
