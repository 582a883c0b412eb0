package gossip

import "github.com/coinjecture/node/chainstore"

// tipAnnouncement is the body of a broadcast/poll tip exchange, matching
// the wire format's snake_case convention.
type tipAnnouncement struct {
	TipIndex  uint64  `json:"tip_index"`
	TipHash   string  `json:"tip_hash"`
	Timestamp float64 `json:"timestamp"`
}

// blocksResponse wraps a requested range of blocks for catch-up fetch.
type blocksResponse struct {
	Status string             `json:"status"`
	Data   []chainstore.Block `json:"data"`
}
