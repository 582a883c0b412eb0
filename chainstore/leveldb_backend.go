package chainstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/coinjecture/node/log"
)

// defaultLDBHandles and the cache sizing mirror this tree's original LevelDB
// backend: a bloom filter on reads, since point lookups by index/hash
// dominate this store's read pattern, and no compaction is ever expected
// to be large enough to need the original's periodic compaction meter.
const defaultLDBCacheMiB = 64
const defaultLDBHandles = 256

func ldbOptions() *opt.Options {
	return &opt.Options{
		OpenFilesCacheCapacity: defaultLDBHandles,
		BlockCacheCapacity:     defaultLDBCacheMiB / 2 * opt.MiB,
		WriteBuffer:            defaultLDBCacheMiB / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}
}

type leveldbKV struct {
	dir string
	db  *leveldb.DB

	logger log.Logger
}

func openLevelDB(dir string) (*leveldbKV, error) {
	logger := log.NewModuleLogger(log.ChainStore).With("backend", "leveldb", "dir", dir)

	db, err := leveldb.OpenFile(dir, ldbOptions())
	if _, corrupted := err.(*lderrors.ErrCorrupted); corrupted {
		logger.Warn("recovering corrupted leveldb", "dir", dir)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("chainstore: opening leveldb at %q: %w", dir, err)
	}
	return &leveldbKV{dir: dir, db: db, logger: logger}, nil
}

func (kv *leveldbKV) Put(key, value []byte) error {
	return kv.db.Put(key, value, nil)
}

func (kv *leveldbKV) Get(key []byte) ([]byte, error) {
	v, err := kv.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errNotFound
	}
	return v, err
}

func (kv *leveldbKV) Has(key []byte) (bool, error) {
	return kv.db.Has(key, nil)
}

func (kv *leveldbKV) Delete(key []byte) error {
	return kv.db.Delete(key, nil)
}

func (kv *leveldbKV) NewBatch() kvBatch {
	return &leveldbBatch{db: kv.db, b: new(leveldb.Batch)}
}

func (kv *leveldbKV) Close() error {
	err := kv.db.Close()
	if err == nil {
		kv.logger.Info("chain store closed")
	}
	return err
}

type leveldbBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *leveldbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	return nil
}

func (b *leveldbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *leveldbBatch) Reset() {
	b.b.Reset()
}
