// Package ingestqueue is the durable hand-off between HTTP ingest and the
// Consensus Engine: every accepted BlockEvent survives a crash before
// enqueue returns, and is never applied to the chain twice.
package ingestqueue

import (
	"context"
	"fmt"

	"github.com/coinjecture/node/config"
	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/metrics"
)

// Queue is the durable event hand-off described by the ingest queue
// contract: enqueue is at-most-once per event_id, iteration is arrival
// ordered and safe alongside concurrent enqueues, and mark_processed is
// idempotent.
type Queue interface {
	Enqueue(ctx context.Context, evt BlockEvent) (EnqueueOutcome, error)
	IterUnprocessed(ctx context.Context) (Iterator, error)
	MarkProcessed(ctx context.Context, eventID string, outcome ProcessOutcome, commitIndex *uint64, reason string) error
	Close() error
}

// Iterator yields unprocessed events in arrival order. Callers must call
// Close when done.
type Iterator interface {
	Next() (BlockEvent, bool)
	Close() error
	Err() error
}

// Open selects and opens a backend by cfg.IngestDBBackend ("leveldb" or
// "redis"), mirroring the Chain Store's pluggable-backend convention.
func Open(cfg config.Config) (Queue, error) {
	logger := log.NewModuleLogger(log.IngestQueue)
	switch cfg.IngestDBBackend {
	case "", "leveldb":
		return openLevelDBQueue(cfg.IngestDBPath, logger)
	case "redis":
		return openRedisQueue(cfg.IngestDBPath, logger)
	default:
		return nil, fmt.Errorf("ingestqueue: unknown backend %q", cfg.IngestDBBackend)
	}
}

func recordMetrics(outcome EnqueueOutcome) {
	switch outcome {
	case Accepted:
		metrics.EventsAccepted.Inc(1)
	case Duplicate:
		metrics.EventsDuplicate.Inc(1)
	case Malformed:
		metrics.EventsMalformed.Inc(1)
	}
}
