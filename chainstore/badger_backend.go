package chainstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/coinjecture/node/log"
)

// gcThreshold and sizeGCTickerTime are carried over unchanged from this
// tree's original badger backend: run value-log GC once the log has grown
// by a gigabyte since the last pass, checked once a minute.
const gcThreshold = int64(1 << 30)
const sizeGCTickerTime = 1 * time.Minute

type badgerKV struct {
	dir string
	db  *badger.DB

	gcTicker *time.Ticker
	done     chan struct{}

	logger log.Logger
}

func openBadger(dir string) (*badgerKV, error) {
	logger := log.NewModuleLogger(log.ChainStore).With("backend", "badger", "dir", dir)

	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("chainstore: %q exists and is not a directory", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chainstore: creating %q: %w", dir, err)
		}
	} else {
		return nil, fmt.Errorf("chainstore: stat %q: %w", dir, err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("chainstore: opening badger at %q: %w", dir, err)
	}

	kv := &badgerKV{
		dir:      dir,
		db:       db,
		logger:   logger,
		gcTicker: time.NewTicker(sizeGCTickerTime),
		done:     make(chan struct{}),
	}
	go kv.runValueLogGC()
	return kv, nil
}

// runValueLogGC periodically reclaims value-log space once growth since the
// last pass exceeds gcThreshold. It never blocks Put/Get/Has/Delete.
func (kv *badgerKV) runValueLogGC() {
	_, lastSize := kv.db.Size()
	for {
		select {
		case <-kv.gcTicker.C:
			_, currSize := kv.db.Size()
			if currSize-lastSize < gcThreshold {
				continue
			}
			if err := kv.db.RunValueLogGC(0.5); err != nil {
				kv.logger.Debug("value log gc skipped", "err", err)
				continue
			}
			_, lastSize = kv.db.Size()
		case <-kv.done:
			return
		}
	}
}

func (kv *badgerKV) Put(key, value []byte) error {
	txn := kv.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, value); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (kv *badgerKV) Get(key []byte) ([]byte, error) {
	txn := kv.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (kv *badgerKV) Has(key []byte) (bool, error) {
	_, err := kv.Get(key)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (kv *badgerKV) Delete(key []byte) error {
	txn := kv.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (kv *badgerKV) NewBatch() kvBatch {
	return &badgerBatch{db: kv.db, txn: kv.db.NewTransaction(true)}
}

func (kv *badgerKV) Close() error {
	close(kv.done)
	kv.gcTicker.Stop()
	err := kv.db.Close()
	if err == nil {
		kv.logger.Info("chain store closed")
	}
	return err
}

type badgerBatch struct {
	db  *badger.DB
	txn *badger.Txn
}

// Put stages one write in the batch's transaction. A write that would make
// the transaction exceed badger's size limit fails the whole batch
// (badger.ErrTxnTooBig) rather than committing part of it.
func (b *badgerBatch) Put(key, value []byte) error {
	return b.txn.Set(key, value)
}

func (b *badgerBatch) Write() error {
	return b.txn.Commit(nil)
}

func (b *badgerBatch) Reset() {
	b.txn.Discard()
	b.txn = b.db.NewTransaction(true)
}
