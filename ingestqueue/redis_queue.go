package ingestqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v7"

	"github.com/coinjecture/node/log"
)

const (
	redisRecordPrefix = "coinjecture:ingest:evt:"
	redisArrivalList  = "coinjecture:ingest:arrival"
)

// redisQueue backs the ingest queue with one Redis instance, letting
// multiple HTTP-facing processes share a queue in front of one Consensus
// Engine. Each event's record lives in a string key built from event_id; an
// arrival-ordered Redis LIST of event_ids stands in for arrival_seq, since
// RPUSH already preserves insertion order.
type redisQueue struct {
	client *redis.Client
	logger log.Logger
}

func openRedisQueue(addr string, logger log.Logger) (*redisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("ingestqueue: connecting to redis at %q: %w", addr, err)
	}
	return &redisQueue{client: client, logger: logger}, nil
}

func (q *redisQueue) Enqueue(_ context.Context, evt BlockEvent) (EnqueueOutcome, error) {
	key := redisRecordPrefix + evt.EventID

	exists, err := q.client.Exists(key).Result()
	if err != nil {
		return Malformed, err
	}
	if exists > 0 {
		recordMetrics(Duplicate)
		return Duplicate, nil
	}

	rec := record{Event: evt, Status: statusPending}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Malformed, fmt.Errorf("ingestqueue: encoding event %s: %w", evt.EventID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.SetNX(key, payload, 0)
	pipe.RPush(redisArrivalList, evt.EventID)
	if _, err := pipe.Exec(); err != nil {
		return Malformed, fmt.Errorf("ingestqueue: persisting event %s: %w", evt.EventID, err)
	}

	recordMetrics(Accepted)
	return Accepted, nil
}

func (q *redisQueue) IterUnprocessed(_ context.Context) (Iterator, error) {
	ids, err := q.client.LRange(redisArrivalList, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ingestqueue: reading arrival list: %w", err)
	}
	return &redisIterator{client: q.client, ids: ids}, nil
}

func (q *redisQueue) MarkProcessed(_ context.Context, eventID string, outcome ProcessOutcome, commitIndex *uint64, reason string) error {
	key := redisRecordPrefix + eventID

	raw, err := q.client.Get(key).Bytes()
	if err == redis.Nil {
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
		return nil
	}

	rec.Status = outcome.String()
	rec.CommitIndex = commitIndex
	rec.Reason = reason

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ingestqueue: encoding event %s: %w", eventID, err)
	}
	return q.client.Set(key, payload, 0).Err()
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

// redisIterator is a point-in-time snapshot over the arrival list fetched
// at IterUnprocessed time, matching the LevelDB iterator's semantics.
type redisIterator struct {
	client *redis.Client
	ids    []string
	pos    int
	err    error
}

func (it *redisIterator) Next() (BlockEvent, bool) {
	for it.pos < len(it.ids) {
		eventID := it.ids[it.pos]
		it.pos++

		raw, err := it.client.Get(redisRecordPrefix + eventID).Bytes()
		if err == redis.Nil {
			continue
		}
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

func (it *redisIterator) Close() error { return nil }
func (it *redisIterator) Err() error   { return it.err }
