// Package consensus is the single writer to the Chain Store: a
// one-goroutine tick loop that drains the Ingest Queue, validates each
// event, and extends the chain under eta-damping.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/fatih/set.v0"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/common"
	"github.com/coinjecture/node/eventvalidator"
	"github.com/coinjecture/node/ingestqueue"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/metrics"
)

// CommitSignal is sent on Engine.Commits every tick that committed at
// least one block, carrying the new tip so Gossip can broadcast without
// re-reading the Chain Store.
type CommitSignal struct {
	Tip chainstore.Block
}

// Engine owns every mutation to the Chain Store. Nothing else in this
// tree is allowed to call chainstore.Append.
type Engine struct {
	chain     *chainstore.ChainStore
	queue     ingestqueue.Queue
	validator eventvalidator.Validator

	tick        time.Duration
	fetchWindow int

	Commits chan CommitSignal

	running int32
	done    chan struct{}
	wg      sync.WaitGroup

	logger log.Logger
}

// New constructs an Engine. Callers must call CheckStartupConsistency
// before Start.
func New(chain *chainstore.ChainStore, queue ingestqueue.Queue, tick time.Duration, fetchWindow int) *Engine {
	return &Engine{
		chain:       chain,
		queue:       queue,
		validator:   eventvalidator.New(),
		tick:        tick,
		fetchWindow: fetchWindow,
		Commits:     make(chan CommitSignal, 8),
		done:        make(chan struct{}),
		logger:      log.NewModuleLogger(log.Consensus),
	}
}

// CheckStartupConsistency walks back up to fetchWindow blocks from the tip
// verifying I1 (chain linearity) holds. A broken link here means an
// unclean shutdown corrupted the store; the caller should treat it as a
// fatal startup error, same severity as a genesis mismatch.
func (e *Engine) CheckStartupConsistency() error {
	tip, err := e.chain.Tip()
	if err != nil {
		return fmt.Errorf("consensus: reading tip: %w", err)
	}
	if tip.Index == 0 {
		return nil
	}

	lowerBound := uint64(0)
	if tip.Index > uint64(e.fetchWindow) {
		lowerBound = tip.Index - uint64(e.fetchWindow)
	}

	child := tip
	for i := tip.Index; i > lowerBound; i-- {
		parent, err := e.chain.GetByIndex(i - 1)
		if err != nil {
			return fmt.Errorf("consensus: startup scan: missing block %d: %w", i-1, err)
		}
		if child.PreviousHash != parent.BlockHash {
			return fmt.Errorf("consensus: startup scan: broken link at index %d: %w", i, chainstore.ErrBrokenLink)
		}
		child = parent
	}
	return nil
}

// Start begins the tick loop in its own goroutine. Stop reverses it.
func (e *Engine) Start() {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return
	}
	e.wg.Add(1)
	go e.run()
}

func (e *Engine) Stop() {
	e.halt()
	e.wg.Wait()
}

// halt ends the tick loop; runTick calls it after a fatal append failure.
func (e *Engine) halt() {
	if atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		close(e.done)
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runTick(context.Background())
		case <-e.done:
			return
		}
	}
}

// runTick drains the ingest queue once in arrival order. Queue failures
// and an unreadable tip stop the tick without halting the engine; the next
// tick retries. An append failure other than ErrIndexOccupied halts the
// tick loop.
func (e *Engine) runTick(ctx context.Context) {
	iter, err := e.queue.IterUnprocessed(ctx)
	if err != nil {
		e.logger.Warn("skipping tick: cannot read unprocessed events", "err", err)
		return
	}
	defer iter.Close()

	tip, err := e.chain.Tip()
	if err != nil {
		e.logger.Warn("skipping tick: cannot read chain tip", "err", pkgerrors.WithStack(err))
		return
	}

	seenHashes := set.New()
	committed := 0

	for {
		evt, ok := iter.Next()
		if !ok {
			break
		}

		var outcome eventvalidator.ValidationOutcome
		if evt.Origin == ingestqueue.OriginGossip {
			outcome = e.validator.ValidateGossipSourced(evt)
		} else {
			outcome = e.validator.Validate(evt)
		}
		if !outcome.IsOk() {
			e.rejectEvent(ctx, evt.EventID, "validation:"+outcome.Kind.String())
			continue
		}

		if seenHashes.Has(evt.BlockHash) {
			e.rejectEvent(ctx, evt.EventID, "duplicate_content")
			continue
		}

		blockHash, err := common.HexToHash(evt.BlockHash)
		if err != nil {
			e.rejectEvent(ctx, evt.EventID, "bad_hash")
			continue
		}

		capacity, ok := common.NormalizeCapacity(string(evt.Capacity))
		if !ok {
			// Already rejected by the validator above; this is unreachable
			// in practice, but candidate.Capacity must never hold a raw,
			// un-normalized value.
			e.rejectEvent(ctx, evt.EventID, "validation:"+eventvalidator.BadCapacity.String())
			continue
		}

		candidate := chainstore.Block{
			Index:               tip.Index + 1, // eta-damping: submitter's block_index is ignored
			BlockHash:           blockHash,
			PreviousHash:        tip.BlockHash,
			Timestamp:           evt.Timestamp,
			MinerAddress:        evt.MinerAddress,
			WorkScore:           evt.WorkScore,
			CumulativeWorkScore: tip.CumulativeWorkScore + evt.WorkScore,
			Capacity:            capacity,
			OffchainCID:         evt.CID,
		}

		if err := e.chain.Append(candidate); err != nil {
			if err == chainstore.ErrIndexOccupied {
				e.rejectEvent(ctx, evt.EventID, "stale_tip")
				continue
			}
			e.logger.Fatal("halting: chain append failed", "err", pkgerrors.WithStack(err), "event_id", evt.EventID)
			e.halt()
			return
		}

		seenHashes.Add(evt.BlockHash)
		tip = candidate
		committed++
		metrics.BlocksCommitted.Inc(1)

		idx := candidate.Index
		if err := e.queue.MarkProcessed(ctx, evt.EventID, ingestqueue.Committed, &idx, ""); err != nil {
			e.logger.Warn("mark_processed failed for committed event", "event_id", evt.EventID, "err", err)
		}
	}

	if committed > 0 {
		select {
		case e.Commits <- CommitSignal{Tip: tip}:
		default:
			e.logger.Warn("commit signal channel full, dropping notification")
		}
	}
}

func (e *Engine) rejectEvent(ctx context.Context, eventID, reason string) {
	metrics.BlocksRejected.Inc(1)
	if err := e.queue.MarkProcessed(ctx, eventID, ingestqueue.Rejected, nil, reason); err != nil {
		e.logger.Warn("mark_processed failed for rejected event", "event_id", eventID, "err", err)
	}
}
