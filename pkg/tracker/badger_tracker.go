package tracker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

const keySeparator = '|'

// BadgerTracker is a Tracker backed by an embedded dgraph-io/badger
// database. Keys are `<trimmed hash><sep><machine id>`; a prefix scan over
// `<trimmed hash><sep>` enumerates every claimant (grounded on the
// teacher's kvBadger.AllKeys prefix-iteration pattern).
type BadgerTracker struct {
	db *badger.DB
}

// OpenBadgerTracker opens (creating if absent) a BadgerTracker at dir. Pass
// an empty dir to run fully in memory, which is what package tests do.
func OpenBadgerTracker(dir string) (*BadgerTracker, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local content tracker: %w", err)
	}
	return &BadgerTracker{db: db}, nil
}

func claimKey(hash contenthash.ContentHash, machine contenthash.MachineId) []byte {
	trimmed := hash.MarshalTrimmed()
	key := make([]byte, 0, len(trimmed)+1+len(machine))
	key = append(key, trimmed...)
	key = append(key, keySeparator)
	key = append(key, []byte(machine)...)
	return key
}

func claimPrefix(hash contenthash.ContentHash) []byte {
	trimmed := hash.MarshalTrimmed()
	prefix := make([]byte, 0, len(trimmed)+1)
	prefix = append(prefix, trimmed...)
	prefix = append(prefix, keySeparator)
	return prefix
}

func (t *BadgerTracker) Record(_ context.Context, hash contenthash.ContentHash, machine contenthash.MachineId) error {
	key := claimKey(hash, machine)
	value := make([]byte, 8)
	nowUnixNano(value)

	return backoff.Retry(func() error {
		return t.db.Update(func(txn *badger.Txn) error {
			err := txn.Set(key, value)
			if err == nil {
				return nil
			}
			if err == badger.ErrConflict {
				return err // retry
			}
			return backoff.Permanent(err)
		})
	}, backoff.NewConstantBackOff(10*time.Millisecond))
}

func (t *BadgerTracker) ClaimantsOtherThan(_ context.Context, hash contenthash.ContentHash, self contenthash.MachineId) ([]contenthash.MachineId, error) {
	prefix := claimPrefix(hash)
	var out []contenthash.MachineId

	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			machine := contenthash.MachineId(bytes.TrimPrefix(key, prefix))
			if machine == self {
				continue
			}
			out = append(out, machine)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan claimants: %w", err)
	}
	return out, nil
}

func (t *BadgerTracker) Close() error {
	return t.db.Close()
}

func nowUnixNano(buf []byte) {
	n := clockNow().UnixNano()
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
}

// clockNow is a seam for tests; production always uses time.Now.
var clockNow = time.Now
