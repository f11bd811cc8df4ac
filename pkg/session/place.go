package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/copyengine"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// PlaceFile materializes hash at path, trying the local cache, then a
// datacenter peer through the copy engine, then falling back to the
// persistent store (§4.5a). A persistent-tier hit populates the local
// store asynchronously — the caller is not kept waiting on that.
func (s *Session) PlaceFile(
	ctx context.Context,
	hash contenthash.ContentHashWithSize,
	path string,
	access store.AccessMode,
	replacement store.ReplacementMode,
	realization store.RealizationMode,
) (store.PlaceFileResult, error) {
	outcome, handled := s.placeLocalAndDatacenter(ctx, hash, path, access, replacement, realization)
	if handled {
		return outcome.result, outcome.err
	}
	return s.placeFromPersistentAsync(ctx, hash, path, access, replacement, realization)
}

type placeOutcome struct {
	result store.PlaceFileResult
	err    error
}

// tryLocalPlace attempts tier 1. Any error from the local store is treated
// as a miss (§4.5a: the Store contract draws no distinction between
// not-found and a real local error; either way the next tier is tried), not
// returned to the caller.
func (s *Session) tryLocalPlace(
	ctx context.Context,
	hash contenthash.ContentHashWithSize,
	path string,
	access store.AccessMode,
	replacement store.ReplacementMode,
	realization store.RealizationMode,
) (placeOutcome, bool) {
	result, err := s.local.PlaceFile(ctx, hash, path, access, replacement, realization)
	if err != nil {
		s.logger.Debug("local place miss", zap.String("hash", hash.Hash.ShortString()), zap.Error(err))
		return placeOutcome{}, false
	}
	result.Source = store.SourceLocalCache
	s.host.Elision.TryAddTTL(hash.Hash, result.Size, s.cfg.PutCacheTimeToLive)
	return placeOutcome{result: result}, true
}

// placeLocalAndDatacenter runs tiers 1-3 (§4.5a steps 1-3), shared between
// PlaceFile and OpenStream. handled is true when one of these tiers
// produced a final answer (including a cancellation) and the persistent
// fallback must not run.
func (s *Session) placeLocalAndDatacenter(
	ctx context.Context,
	hash contenthash.ContentHashWithSize,
	path string,
	access store.AccessMode,
	replacement store.ReplacementMode,
	realization store.RealizationMode,
) (placeOutcome, bool) {
	if outcome, ok := s.tryLocalPlace(ctx, hash, path, access, replacement, realization); ok {
		return outcome, true
	}

	handle, err := s.host.Gate.Acquire(ctx, hash.Hash.String())
	if err != nil {
		return placeOutcome{err: err}, true
	}
	defer handle.Release()

	if !handle.WaitFree {
		// Another caller may have just populated it locally (§4.1).
		if outcome, ok := s.tryLocalPlace(ctx, hash, path, access, replacement, realization); ok {
			return outcome, true
		}
	}

	return s.tryDatacenterPlace(ctx, hash, path, access, replacement, realization)
}

// tryDatacenterPlace runs tier 3 (§4.5a step 3): resolve candidate peers,
// drive the copy engine, then re-run PlaceFile locally to realize path with
// the caller's requested access/replacement mode. Returning handled=false
// means the resolver lookup failed, no active peer candidate exists, or the
// copy engine could not copy and commit the content; the overall PlaceFile
// call then falls through to the persistent tier (§4.5a: "on failure, falls
// back to the persistent tier").
func (s *Session) tryDatacenterPlace(
	ctx context.Context,
	hash contenthash.ContentHashWithSize,
	path string,
	access store.AccessMode,
	replacement store.ReplacementMode,
	realization store.RealizationMode,
) (placeOutcome, bool) {
	result, err := s.host.Resolver.GetSingleLocation(ctx, hash.Hash)
	if err != nil {
		s.logger.Debug("datacenter lookup failed", zap.String("hash", hash.Hash.ShortString()), zap.Error(err))
		return placeOutcome{}, false
	}

	locations := make([]contenthash.MachineLocation, 0, len(result.Existing()))
	for _, id := range result.Existing() {
		record, known := s.host.Cluster.RecordByMachineId(id)
		if !known {
			s.logger.Warn("unknown machine id returned by content resolver", zap.String("machine", string(id)))
			continue
		}
		if s.host.Cluster.IsInactive(id) {
			continue
		}
		locations = append(locations, record.Location)
	}
	if len(locations) == 0 {
		return placeOutcome{}, false
	}

	hashInfo := contenthash.ContentHashWithSizeAndLocations{
		ContentHashWithSize: hash,
		Locations:           locations,
		Origin:              contenthash.OriginContentResolver,
	}

	req := copyengine.CopyRequest{
		HashInfo: hashInfo,
		Reason:   "place-file",
		HandleCopy: func(ctx context.Context, copyResult copyengine.CopyFileResult, tempPath string, attemptCount int) (store.PutResult, error) {
			return s.local.PutTrustedFile(ctx, hash, tempPath, store.RealizationCopy)
		},
		WorkingFolder: s.host.Workspace,
	}

	if _, err := s.host.Engine.TryCopyAndPut(ctx, req, nil); err != nil {
		return placeOutcome{}, false
	}

	// Realize the caller's requested path/mode now that the bytes are
	// local.
	result2, err := s.local.PlaceFile(ctx, hash, path, access, replacement, realization)
	if err != nil {
		return placeOutcome{err: err}, true
	}
	result2.Source = store.SourceDatacenterCache
	s.host.Elision.TryAddTTL(hash.Hash, result2.Size, s.cfg.PutCacheTimeToLive)
	return placeOutcome{result: result2}, true
}

// placeFromPersistentAsync runs tier 4 (§4.5a step 4): materialize from the
// persistent store, then populate the local store in the background on a
// best-effort basis without making the caller wait.
func (s *Session) placeFromPersistentAsync(
	ctx context.Context,
	hash contenthash.ContentHashWithSize,
	path string,
	access store.AccessMode,
	replacement store.ReplacementMode,
	realization store.RealizationMode,
) (store.PlaceFileResult, error) {
	result, err := s.persistent.PlaceFile(ctx, hash, path, access, replacement, realization)
	if err != nil {
		return store.PlaceFileResult{}, err
	}
	result.Source = store.SourceBackingStore
	s.host.Elision.TryAddTTL(hash.Hash, result.Size, s.cfg.PutCacheTimeToLive)

	go s.populateLocalBestEffort(hash, path)

	return result, nil
}

// populateLocalBestEffort mirrors a persistent-tier hit into the local
// store without the original caller waiting on it, ingesting the bytes
// persistent.PlaceFile already materialized at path. It always copies
// rather than moves: the caller above still owns path.
func (s *Session) populateLocalBestEffort(hash contenthash.ContentHashWithSize, path string) {
	ctx := context.Background()
	if _, err := s.local.PutFile(ctx, store.KnownHash(hash.Hash), path, store.RealizationCopy); err != nil {
		s.logger.Warn("best-effort local populate failed", zap.String("hash", hash.Hash.ShortString()), zap.Error(err))
	}
}
