package chainstore

import "github.com/coinjecture/node/common"

// Block is a committed, immutable entry in the chain.
type Block struct {
	Index               uint64          `json:"index"`
	BlockHash           common.Hash     `json:"block_hash"`
	PreviousHash        common.Hash     `json:"previous_hash"`
	Timestamp           float64         `json:"timestamp"`
	MinerAddress        string          `json:"miner_address"`
	WorkScore           float64         `json:"work_score"`
	CumulativeWorkScore float64         `json:"cumulative_work_score"`
	Capacity            common.Capacity `json:"capacity"`
	OffchainCID         string          `json:"offchain_cid"`
	MerkleRoot          common.Hash     `json:"merkle_root"`
}
