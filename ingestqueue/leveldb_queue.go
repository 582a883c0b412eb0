package ingestqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/coinjecture/node/log"
)

const (
	evtPrefix = "evt:"
	seqPrefix = "seq:"
)

// leveldbQueue keeps two keyspaces in one LevelDB: evt:<event_id> for the
// record itself, seq:<8-byte-BE-arrival-seq> -> event_id for arrival-
// ordered iteration. Both are written in the same batch so a crash never
// leaves one without the other.
type leveldbQueue struct {
	db     *leveldb.DB
	logger log.Logger

	mu     sync.Mutex
	nextSeq uint64
}

func openLevelDBQueue(dir string, logger log.Logger) (*leveldbQueue, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*lderrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("ingestqueue: opening leveldb at %q: %w", dir, err)
	}

	q := &leveldbQueue{db: db, logger: logger}
	q.nextSeq, err = q.scanMaxSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *leveldbQueue) scanMaxSeq() (uint64, error) {
	iter := q.db.NewIterator(util.BytesPrefix([]byte(seqPrefix)), nil)
	defer iter.Release()
	var max uint64
	for iter.Next() {
		seq := binary.BigEndian.Uint64(iter.Key()[len(seqPrefix):])
		if seq+1 > max {
			max = seq + 1
		}
	}
	return max, iter.Error()
}

func (q *leveldbQueue) Enqueue(_ context.Context, evt BlockEvent) (EnqueueOutcome, error) {
	key := []byte(evtPrefix + evt.EventID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.Get(key, nil); err == nil {
		recordMetrics(Duplicate)
		return Duplicate, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return Malformed, err
	}

	seq := q.nextSeq
	rec := record{Event: evt, ArrivalSeq: seq, Status: statusPending}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Malformed, fmt.Errorf("ingestqueue: encoding event %s: %w", evt.EventID, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(key, payload)
	batch.Put(seqKey(seq), []byte(evt.EventID))
	if err := q.db.Write(batch, nil); err != nil {
		return Malformed, fmt.Errorf("ingestqueue: persisting event %s: %w", evt.EventID, err)
	}
	q.nextSeq++

	recordMetrics(Accepted)
	return Accepted, nil
}

func (q *leveldbQueue) IterUnprocessed(_ context.Context) (Iterator, error) {
	iter := q.db.NewIterator(util.BytesPrefix([]byte(seqPrefix)), nil)
	return &leveldbIterator{db: q.db, iter: iter}, nil
}

func (q *leveldbQueue) MarkProcessed(_ context.Context, eventID string, outcome ProcessOutcome, commitIndex *uint64, reason string) error {
	key := []byte(evtPrefix + eventID)

	q.mu.Lock()
	defer q.mu.Unlock()

	raw, err := q.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("ingestqueue: mark_processed: unknown event %s", eventID)
	}
	if err != nil {
		return err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("ingestqueue: decoding event %s: %w", eventID, err)
	}
	if rec.Status != statusPending {
		return nil // idempotent: already processed
	}

	rec.Status = outcome.String()
	rec.CommitIndex = commitIndex
	rec.Reason = reason

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ingestqueue: encoding event %s: %w", eventID, err)
	}
	return q.db.Put(key, payload, nil)
}

func (q *leveldbQueue) Close() error {
	return q.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(seqPrefix)+8)
	copy(key, seqPrefix)
	binary.BigEndian.PutUint64(key[len(seqPrefix):], seq)
	return key
}

// leveldbIterator walks the seq: keyspace, resolving each arrival-ordered
// event_id to its record and skipping anything already processed. It is a
// point-in-time snapshot; events enqueued after the iterator is created
// are not guaranteed to appear.
type leveldbIterator struct {
	db   *leveldb.DB
	iter interface {
		Next() bool
		Key() []byte
		Release()
		Error() error
	}
	err error
}

func (it *leveldbIterator) Next() (BlockEvent, bool) {
	for it.iter.Next() {
		eventID := string(it.iter.Key()[len(seqPrefix):])
		raw, err := it.db.Get([]byte(evtPrefix+eventID), nil)
		if err != nil {
			it.err = err
			return BlockEvent{}, false
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			it.err = err
			return BlockEvent{}, false
		}
		if rec.Status != statusPending {
			continue
		}
		return rec.Event, true
	}
	return BlockEvent{}, false
}

func (it *leveldbIterator) Close() error {
	it.iter.Release()
	return nil
}

func (it *leveldbIterator) Err() error {
	return it.err
}
