package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// FakeStore is an in-memory LocalStore, for tests that exercise session and
// copy-engine logic without a real CAS backend (grounded on the teacher's
// hand-rolled-fake testing style, e.g. pkg/cafs/mocks_test.go).
type FakeStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	pinned   map[string]bool
	failNext error
}

// NewFake creates an empty FakeStore.
func NewFake() *FakeStore {
	return &FakeStore{
		blobs:  make(map[string][]byte),
		pinned: make(map[string]bool),
	}
}

// Seed pre-populates the store with hash's bytes, as if a prior put had
// already happened.
func (f *FakeStore) Seed(hash contenthash.ContentHash, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[hash.String()] = append([]byte(nil), data...)
}

// FailNext arms the store to return err from the next call to Pin,
// PlaceFile, or any put (PinBulk consumes it through Pin).
func (f *FakeStore) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *FakeStore) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *FakeStore) Pin(_ context.Context, hash contenthash.ContentHash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.pinned[hash.String()] = true
	return nil
}

func (f *FakeStore) PinBulk(ctx context.Context, hashes []contenthash.ContentHash) error {
	for _, h := range hashes {
		if err := f.Pin(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeStore) PlaceFile(_ context.Context, hash contenthash.ContentHashWithSize, path string, _ AccessMode, replacement ReplacementMode, _ RealizationMode) (PlaceFileResult, error) {
	f.mu.Lock()
	data, ok := f.blobs[hash.Hash.String()]
	failure := f.takeFailure()
	f.mu.Unlock()

	if failure != nil {
		return PlaceFileResult{}, failure
	}
	if !ok {
		return PlaceFileResult{}, os.ErrNotExist
	}
	if _, err := os.Stat(path); err == nil && replacement == ReplacementModeRefuse {
		return PlaceFileResult{}, os.ErrExist
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return PlaceFileResult{}, err
	}
	return PlaceFileResult{Hash: hash.Hash, Size: int64(len(data)), Source: SourceLocalCache}, nil
}

func (f *FakeStore) putBytes(data []byte, known *contenthash.ContentHash, t contenthash.HashType) (PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure(); err != nil {
		return PutResult{}, err
	}

	var hash contenthash.ContentHash
	if known != nil {
		hash = *known
	} else {
		switch t {
		case contenthash.Vso0:
			hash = contenthash.ComputeVso0(data)
		default:
			hash = contenthash.ComputeSha256(data)
		}
	}

	key := hash.String()
	if _, already := f.blobs[key]; already {
		return PutResult{Hash: hash, Size: int64(len(data)), Source: SourceLocalCache, AlreadyExists: true}, nil
	}
	f.blobs[key] = append([]byte(nil), data...)
	return PutResult{Hash: hash, Size: int64(len(data)), Source: SourceLocalCache}, nil
}

// PutFile reads path's bytes and stores them. Realization mode is ignored:
// the fake stands in for both tiers, and it is the session's job to reject
// RealizationMove against the persistent tier before the call gets here.
func (f *FakeStore) PutFile(_ context.Context, hash HashOrType, path string, _ RealizationMode) (PutResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PutResult{}, err
	}
	return f.putBytes(data, hash.Known, hash.Type)
}

func (f *FakeStore) PutStream(_ context.Context, hash HashOrType, stream io.ReadSeeker, _ RealizationMode) (PutResult, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return PutResult{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return PutResult{}, err
	}
	return f.putBytes(buf.Bytes(), hash.Known, hash.Type)
}

func (f *FakeStore) PutTrustedFile(_ context.Context, hashWithSize contenthash.ContentHashWithSize, tempPath string, _ RealizationMode) (PutResult, error) {
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return PutResult{}, err
	}
	return f.putBytes(data, &hashWithSize.Hash, contenthash.Unknown)
}

// Has reports whether hash's bytes are resident, for test assertions.
func (f *FakeStore) Has(hash contenthash.ContentHash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[hash.String()]
	return ok
}

// Pinned reports whether hash has been pinned, for test assertions.
func (f *FakeStore) Pinned(hash contenthash.ContentHash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned[hash.String()]
}
