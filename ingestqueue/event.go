package ingestqueue

import "github.com/coinjecture/node/common"

// Origin records where a BlockEvent came from: a directly submitted,
// miner-signed candidate, or a block this node re-derived from a peer
// during gossip catch-up. The two origins are validated differently —
// see eventvalidator.Validator.ValidateGossipSourced.
type Origin string

const (
	// OriginSubmitted is the only origin the public ingest endpoint ever
	// assigns, regardless of what a caller's JSON body claims.
	OriginSubmitted Origin = "submitted"
	OriginGossip    Origin = "gossip"
)

// BlockEvent is a candidate block as submitted by an external miner,
// unvalidated until the Validator runs over it.
type BlockEvent struct {
	EventID      string          `json:"event_id"`
	BlockIndex   uint64          `json:"block_index"`
	BlockHash    string          `json:"block_hash"`
	CID          string          `json:"cid"`
	MinerAddress string          `json:"miner_address"`
	Capacity     common.Capacity `json:"capacity"`
	WorkScore    float64         `json:"work_score"`
	Timestamp    float64         `json:"ts"`
	Signature    string          `json:"signature"`
	PublicKey    string          `json:"public_key"`

	// Origin is never trusted from an external caller: handleIngest
	// overwrites it to OriginSubmitted right after decoding, regardless
	// of what the request body contains, so a submitter can never forge
	// OriginGossip to bypass signature verification.
	Origin Origin `json:"origin"`
}

// EnqueueOutcome is the tagged result of enqueue, replacing an error return
// with an explicit classification the HTTP layer maps straight to a status
// code.
type EnqueueOutcome int

const (
	Accepted EnqueueOutcome = iota
	Duplicate
	Malformed
)

func (o EnqueueOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ProcessOutcome is what the Consensus Engine records via mark_processed.
type ProcessOutcome int

const (
	Committed ProcessOutcome = iota
	Rejected
)

func (o ProcessOutcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// record is the durable, persisted form of one event: the event itself,
// its processing status, and bookkeeping needed for arrival-ordered
// iteration and idempotent status writes.
type record struct {
	Event       BlockEvent     `json:"event"`
	ArrivalSeq  uint64         `json:"arrival_seq"`
	Status      string         `json:"status"` // "pending", "committed", "rejected"
	CommitIndex *uint64        `json:"commit_index,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

const (
	statusPending   = "pending"
	statusCommitted = "committed"
	statusRejected  = "rejected"
)
