package storage

import (
	"bytes"
	"context"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// compressThreshold is the value size at or above which BoltStore transparently
// snappy-compresses before writing. Values are round-tripped exactly
// regardless of size (up to the 16 MiB contract limit); compression is
// purely a storage-efficiency optimization, never a behavior change.
const compressThreshold = 4096

// valueTag marks whether a stored value is snappy-compressed, so Get can
// decide whether to decompress without retrying.
const (
	tagRaw      byte = 0
	tagSnappy   byte = 1
)

// BoltStore implements Store durably with go.etcd.io/bbolt. Column
// families map one-to-one onto bbolt buckets (created lazily on first
// write); Batch maps onto a single bbolt read-write transaction, which
// gives atomicity and the "no partial batch observed" guarantee for
// free; Snapshot/Restore use bbolt's own consistent-copy primitives.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path with
// the three reserved column families pre-created.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range []string{CFShardState, CFTransactions, CFMetadata} {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init buckets")
	}

	return &BoltStore{db: db}, nil
}

func encodeValue(v []byte) []byte {
	if len(v) < compressThreshold {
		out := make([]byte, len(v)+1)
		out[0] = tagRaw
		copy(out[1:], v)
		return out
	}
	compressed := snappy.Encode(nil, v)
	out := make([]byte, len(compressed)+1)
	out[0] = tagSnappy
	copy(out[1:], compressed)
	return out
}

func decodeValue(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errors.Wrap(ErrCorrupt, "empty stored value")
	}
	tag, payload := stored[0], stored[1:]
	switch tag {
	case tagRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case tagSnappy:
		return snappy.Decode(nil, payload)
	default:
		return nil, errors.Wrap(ErrCorrupt, "unknown value tag")
	}
}

// Get implements Store.
func (b *BoltStore) Get(_ context.Context, cf string, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(cf))
		if bkt == nil {
			return ErrNotFound
		}
		v := bkt.Get(key)
		if v == nil {
			return ErrNotFound
		}
		decoded, err := decodeValue(v)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements Store.
func (b *BoltStore) Put(_ context.Context, cf string, key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(cf))
		if err != nil {
			return err
		}
		return bkt.Put(key, encodeValue(value))
	})
}

// Delete implements Store.
func (b *BoltStore) Delete(_ context.Context, cf string, key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(cf))
		if bkt == nil {
			return nil
		}
		return bkt.Delete(key)
	})
}

// Batch implements Store as a single bbolt transaction: either every op
// commits, or (on any error) none do, because bbolt rolls the whole
// transaction back.
func (b *BoltStore) Batch(_ context.Context, cf string, ops []Op) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(cf))
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.Delete {
				if err := bkt.Delete(op.Key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(op.Key, encodeValue(op.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanPrefix implements Store, relying on bbolt's natural
// lexicographic-key ordering within a bucket.
func (b *BoltStore) ScanPrefix(_ context.Context, cf string, prefix []byte) ([]KV, error) {
	var out []KV
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(cf))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			decoded, err := decodeValue(v)
			if err != nil {
				return err
			}
			key := make([]byte, len(k))
			copy(key, k)
			out = append(out, KV{Key: key, Value: decoded})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot implements Store using bbolt's transactional WriteTo, which
// produces a consistent point-in-time copy even under concurrent
// writers.
func (b *BoltStore) Snapshot(_ context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create snapshot file")
	}
	defer f.Close()

	return b.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
}

// Restore implements Store by closing the live database, replacing its
// backing file with the snapshot, and reopening. Restore is exclusive
// with any concurrent operation on this store by design: callers must
// quiesce the engine before calling it.
func (b *BoltStore) Restore(_ context.Context, path string) error {
	dbPath := b.db.Path()
	if err := b.db.Close(); err != nil {
		return errors.Wrap(err, "close before restore")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	if err := os.WriteFile(dbPath, data, 0o600); err != nil {
		return errors.Wrap(err, "write restored db")
	}

	reopened, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return errors.Wrap(err, "reopen after restore")
	}
	b.db = reopened
	return nil
}

// Close implements Store.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
