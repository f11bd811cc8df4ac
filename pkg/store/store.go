// Package store declares the local and persistent content-session
// interfaces the ephemeral session consumes (§4.5, §6). Both tiers satisfy
// the same Store contract; only the local tier additionally exposes
// PutTrustedFile, used by the copy engine to commit a hash it has already
// verified without re-hashing the bytes.
//
// Grounded on the teacher's storage.Store shape (pkg/storage/store.go) and
// its context.Stores aggregate (pkg/context/context.go): a small verb set,
// no assumptions about the backing implementation.
package store

import (
	"context"
	"io"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// AccessMode controls how PlaceFile expects the caller to use the
// materialized file.
type AccessMode int

const (
	AccessModeDefault AccessMode = iota
	AccessModeReadOnly
)

// ReplacementMode controls what PlaceFile does when the destination path
// already exists.
type ReplacementMode int

const (
	ReplacementModeRefuse ReplacementMode = iota
	ReplacementModeOverwrite
)

// RealizationMode controls how a store materializes bytes at a destination
// path: by copying them, hard-linking to a CAS-resident file, or moving a
// caller-owned file into the store.
type RealizationMode int

const (
	RealizationCopy RealizationMode = iota
	RealizationHardLink
	RealizationMove
)

// Source tags which tier ultimately answered a PlaceFile or PutFile/PutStream
// call (§3: "a source tag").
type Source int

const (
	SourceUnknown Source = iota
	SourceLocalCache
	SourceDatacenterCache
	SourceBackingStore
)

func (s Source) String() string {
	switch s {
	case SourceLocalCache:
		return "LocalCache"
	case SourceDatacenterCache:
		return "DatacenterCache"
	case SourceBackingStore:
		return "BackingStore"
	default:
		return "Unknown"
	}
}

// PlaceFileResult is the success record from PlaceFile (§3).
type PlaceFileResult struct {
	Hash          contenthash.ContentHash
	Size          int64
	Source        Source
	AlreadyExists bool
}

// PutResult is the success record from PutFile, PutStream and
// PutTrustedFile (§3). AlreadyExists is set when the local store recognizes
// the content as already resident from an earlier put in this build cycle
// (§4.5: "ContentAlreadyExistsInCache").
type PutResult struct {
	Hash          contenthash.ContentHash
	Size          int64
	Source        Source
	AlreadyExists bool
}

// HashOrType identifies content for a put either by an already-known hash
// (the caller computed or received it in advance) or by a HashType the
// store should use to compute it while consuming the bytes. Exactly one of
// the two is meaningful on any given value.
type HashOrType struct {
	Known *contenthash.ContentHash
	Type  contenthash.HashType
}

// KnownHash builds a HashOrType that carries an already-computed hash.
func KnownHash(hash contenthash.ContentHash) HashOrType {
	return HashOrType{Known: &hash}
}

// ByType builds a HashOrType that asks the store to compute a hash of the
// given algorithm while consuming the bytes.
func ByType(t contenthash.HashType) HashOrType {
	return HashOrType{Type: t}
}

// Store is the content session contract consumed by the ephemeral session
// for both the local and the persistent tier (§6, "Local and persistent
// content session (consumed)").
type Store interface {
	// Pin marks hash as in-use so the store must not evict it.
	Pin(ctx context.Context, hash contenthash.ContentHash) error
	// PinBulk is Pin for a batch of hashes.
	PinBulk(ctx context.Context, hashes []contenthash.ContentHash) error
	// PlaceFile materializes hash at path according to the given modes.
	PlaceFile(ctx context.Context, hash contenthash.ContentHashWithSize, path string, access AccessMode, replacement ReplacementMode, realization RealizationMode) (PlaceFileResult, error)
	// PutFile computes or confirms a hash while consuming the file at path
	// and stores its bytes. RealizationMove is rejected by the persistent
	// tier (§4.5: "must not be reached by a move").
	PutFile(ctx context.Context, hash HashOrType, path string, realization RealizationMode) (PutResult, error)
	// PutStream is PutFile over a seekable reader in place of a path.
	PutStream(ctx context.Context, hash HashOrType, stream io.ReadSeeker, realization RealizationMode) (PutResult, error)
}

// LocalStore is the local tier's Store, with the additional trusted-put
// capability the copy engine relies on to commit a hash it has already
// verified against the source bytes without re-hashing them (§4.5:
// "bypassing re-hashing because the copy engine already verified the
// hash").
type LocalStore interface {
	Store

	// PutTrustedFile commits tempPath's bytes under hashWithSize without
	// recomputing the hash. Callers must only pass a hash they have
	// themselves verified against tempPath's contents.
	PutTrustedFile(ctx context.Context, hashWithSize contenthash.ContentHashWithSize, tempPath string, realization RealizationMode) (PutResult, error)
}
