// Package eventvalidator is the stateless syntactic and cryptographic
// gate for BlockEvents: the ingest endpoint runs it before enqueueing a
// submitted event, and the Consensus Engine runs it on every event it
// drains before committing. It performs no I/O and never looks at the
// chain.
package eventvalidator

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/ed25519"

	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/ingestqueue"
)

// ErrorKind enumerates the rejection reasons Validate can return.
type ErrorKind int

const (
	Ok ErrorKind = iota
	MissingField
	BadHex
	BadKeyLength
	BadSigLength
	BadSignature
	NonPositiveWork
	BadCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case MissingField:
		return "missing_field"
	case BadHex:
		return "bad_hex"
	case BadKeyLength:
		return "bad_key_length"
	case BadSigLength:
		return "bad_sig_length"
	case BadSignature:
		return "bad_signature"
	case NonPositiveWork:
		return "non_positive_work"
	case BadCapacity:
		return "bad_capacity"
	default:
		return "unknown"
	}
}

// ValidationOutcome is the tagged-sum result of Validate: Ok, or exactly
// one ErrorKind naming why the event was rejected.
type ValidationOutcome struct {
	Kind ErrorKind
}

func (v ValidationOutcome) IsOk() bool { return v.Kind == Ok }

const (
	sigHexLen = 128 // 64-byte Ed25519 signature
	keyHexLen = 64  // 32-byte Ed25519 public key
)

// Validator is a pure function object: no fields, no I/O, safe for
// concurrent use by any number of HTTP handler goroutines.
type Validator struct{}

func New() Validator { return Validator{} }

// Validate runs all five rules in order and returns the first violation.
// It is the only path a directly submitted BlockEvent — one the public
// ingest endpoint received a raw signature and public key for — can take.
func (v Validator) Validate(evt ingestqueue.BlockEvent) ValidationOutcome {
	if outcome, ok := v.checkShape(evt); !ok {
		return outcome
	}

	if len(evt.Signature) != sigHexLen {
		return ValidationOutcome{BadSigLength}
	}
	if len(evt.PublicKey) != keyHexLen {
		return ValidationOutcome{BadKeyLength}
	}
	sig, err := hex.DecodeString(evt.Signature)
	if err != nil {
		return ValidationOutcome{BadHex}
	}
	pub, err := hex.DecodeString(evt.PublicKey)
	if err != nil {
		return ValidationOutcome{BadHex}
	}

	msg, err := canonicalBytes(evt)
	if err != nil {
		return ValidationOutcome{BadHex}
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ValidationOutcome{BadSignature}
	}

	return v.checkValues(evt)
}

// ValidateGossipSourced runs the same shape and value rules as Validate
// but skips signature verification. A gossip-sourced BlockEvent is
// reconstructed from a block this node already fetched from a peer over
// the catch-up endpoint — there is no miner signature to check it
// against, only the chain-linkage invariants the Chain Store itself
// enforces on Append (broken link, occupied index). Callers must reject
// any event whose Origin is not ingestqueue.OriginGossip before calling
// this — it is not a substitute for Validate on caller-supplied input.
func (v Validator) ValidateGossipSourced(evt ingestqueue.BlockEvent) ValidationOutcome {
	if outcome, ok := v.checkShape(evt); !ok {
		return outcome
	}
	return v.checkValues(evt)
}

func (Validator) checkShape(evt ingestqueue.BlockEvent) (ValidationOutcome, bool) {
	if evt.EventID == "" || evt.BlockHash == "" || evt.MinerAddress == "" ||
		evt.Timestamp == 0 || evt.WorkScore == 0 {
		return ValidationOutcome{MissingField}, false
	}
	return ValidationOutcome{}, true
}

func (Validator) checkValues(evt ingestqueue.BlockEvent) ValidationOutcome {
	if evt.WorkScore <= 0 {
		return ValidationOutcome{NonPositiveWork}
	}
	if _, ok := common.NormalizeCapacity(string(evt.Capacity)); !ok {
		return ValidationOutcome{BadCapacity}
	}
	return ValidationOutcome{Ok}
}

// canonicalBytes builds the exact byte sequence a submitter signs over:
// every field but signature and public_key, as a JSON object with keys in
// sorted order (block_hash, block_index, capacity, cid, event_id,
// miner_address, ts, work_score). encoding/json's struct-field order is
// declaration order, not sort order, so the payload is built from a
// map[string]interface{} instead — json.Marshal always emits a map's
// string keys sorted, which is what makes this reproducible independent
// of the struct this verifier happens to declare BlockEvent in.
func canonicalBytes(evt ingestqueue.BlockEvent) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"block_hash":    evt.BlockHash,
		"block_index":   evt.BlockIndex,
		"capacity":      evt.Capacity,
		"cid":           evt.CID,
		"event_id":      evt.EventID,
		"miner_address": evt.MinerAddress,
		"ts":            evt.Timestamp,
		"work_score":    evt.WorkScore,
	})
}
