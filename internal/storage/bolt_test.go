package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func openTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardledger.db")
	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)

	if err := store.Put(ctx, CFTransactions, []byte("tx/1"), []byte("value1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := store.Get(ctx, CFTransactions, []byte("tx/1"))
	if err != nil || !bytes.Equal(v, []byte("value1")) {
		t.Fatalf("expected value1, got %s, err=%v", v, err)
	}

	if err := store.Delete(ctx, CFTransactions, []byte("tx/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, CFTransactions, []byte("tx/1")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBoltStoreGetOnMissingBucketReturnsNotFound(t *testing.T) {
	store := openTestBoltStore(t)
	if _, err := store.Get(context.Background(), "unknown_cf", []byte("nope")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBoltStoreLargeValueRoundTripsThroughCompression(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)

	large := bytes.Repeat([]byte("x"), compressThreshold*2)
	if err := store.Put(ctx, CFShardState, []byte("big"), large); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, CFShardState, []byte("big"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Error("expected large value to round-trip byte-for-byte through compression")
	}
}

func TestBoltStoreBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)

	ops := []Op{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	if err := store.Batch(ctx, CFMetadata, ops); err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, op := range ops {
		v, err := store.Get(ctx, CFMetadata, op.Key)
		if err != nil || !bytes.Equal(v, op.Value) {
			t.Errorf("key %s: got %s, err=%v", op.Key, v, err)
		}
	}
}

func TestBoltStoreScanPrefixOrdersAscending(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)

	for _, k := range []string{"tx/3", "tx/1", "tx/2", "other/1"} {
		if err := store.Put(ctx, CFTransactions, []byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	kvs, err := store.ScanPrefix(ctx, CFTransactions, []byte("tx/"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kvs) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(kvs))
	}
	for i := 1; i < len(kvs); i++ {
		if bytes.Compare(kvs[i-1].Key, kvs[i].Key) >= 0 {
			t.Errorf("expected ascending order, got %s then %s", kvs[i-1].Key, kvs[i].Key)
		}
	}
}

func TestBoltStoreSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)
	if err := store.Put(ctx, CFTransactions, []byte("tx/1"), []byte("value1")); err != nil {
		t.Fatal(err)
	}

	snapPath := filepath.Join(t.TempDir(), "snapshot.db")
	if err := store.Snapshot(ctx, snapPath); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := store.Put(ctx, CFTransactions, []byte("tx/1"), []byte("changed")); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(ctx, snapPath); err != nil {
		t.Fatalf("restore: %v", err)
	}

	v, err := store.Get(ctx, CFTransactions, []byte("tx/1"))
	if err != nil || !bytes.Equal(v, []byte("value1")) {
		t.Errorf("expected restored value1, got %s, err=%v", v, err)
	}
}

func TestStoreInterfaceSatisfiedByBoltStore(t *testing.T) {
	var _ Store = (*BoltStore)(nil)
}
