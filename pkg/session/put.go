package session

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/ecerrors"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/resolver"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// PutFile computes or confirms a hash while consuming path into the local
// store, then propagates it to the persistent tier unless some other
// claimant already has it (§4.5b). RealizationMove is rejected: the
// persistent store must never be reached by a move (§4.5b).
func (s *Session) PutFile(ctx context.Context, hash store.HashOrType, path string, realization store.RealizationMode) (store.PutResult, error) {
	if realization == store.RealizationMove {
		return store.PutResult{}, ecerrors.NewKind(ecerrors.KindPutRejected, "session: PutFile with realization move is rejected")
	}

	put, err := s.local.PutFile(ctx, hash, path, realization)
	if err != nil {
		return store.PutResult{}, err
	}

	return s.afterLocalPut(ctx, put, func(ctx context.Context) (store.PutResult, error) {
		return s.persistent.PutFile(ctx, store.KnownHash(put.Hash), path, store.RealizationCopy)
	})
}

// PutStream is PutFile over a seekable reader. The stream's position at
// entry is restored before the persistent upload, since the local put may
// have consumed the stream (§4.5b: "PutStream additionally requires a
// seekable input and restores the original position before each subsequent
// read").
func (s *Session) PutStream(ctx context.Context, hash store.HashOrType, stream io.ReadSeeker, realization store.RealizationMode) (store.PutResult, error) {
	if realization == store.RealizationMove {
		return store.PutResult{}, ecerrors.NewKind(ecerrors.KindPutRejected, "session: PutStream with realization move is rejected")
	}

	start, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return store.PutResult{}, err
	}

	put, err := s.local.PutStream(ctx, hash, stream, realization)
	if err != nil {
		return store.PutResult{}, err
	}

	return s.afterLocalPut(ctx, put, func(ctx context.Context) (store.PutResult, error) {
		if _, err := stream.Seek(start, io.SeekStart); err != nil {
			return store.PutResult{}, err
		}
		return s.persistent.PutStream(ctx, store.KnownHash(put.Hash), stream, store.RealizationCopy)
	})
}

// afterLocalPut implements the shared tail of PutFile/PutStream (§4.5b
// steps 1-5): short-circuit if the local store already knew the content,
// consult and then arm the elision cache, single-flight the decision of
// whether any other claimant already has it, and only then actually upload
// to the persistent tier.
func (s *Session) afterLocalPut(ctx context.Context, put store.PutResult, upload func(ctx context.Context) (store.PutResult, error)) (store.PutResult, error) {
	if put.AlreadyExists {
		return put, nil
	}

	if _, hit := s.host.Elision.TryGet(put.Hash); hit {
		put.AlreadyExists = true
		return put, nil
	}

	handle, err := s.host.Gate.Acquire(ctx, put.Hash.String())
	if err != nil {
		return store.PutResult{}, err
	}
	defer handle.Release()

	if !handle.WaitFree {
		if _, hit := s.host.Elision.TryGet(put.Hash); hit {
			put.AlreadyExists = true
			return put, nil
		}
	}

	if err := s.host.Tracker.Record(ctx, put.Hash, s.host.Cluster.PrimaryMachineId()); err != nil {
		s.logger.Warn("local tracker record failed", zap.String("hash", put.Hash.ShortString()), zap.Error(err))
	}

	exists, err := s.ExistsElsewhere(ctx, put.Hash)
	if err != nil {
		s.logger.Warn("exists-elsewhere check failed", zap.String("hash", put.Hash.ShortString()), zap.Error(err))
	} else if exists {
		s.host.Elision.TryAddTTL(put.Hash, put.Size, s.cfg.PutCacheTimeToLive)
		put.AlreadyExists = true
		return put, nil
	}

	uploaded, err := upload(ctx)
	if err != nil {
		return store.PutResult{}, err
	}
	uploaded.Source = store.SourceBackingStore
	s.host.Elision.TryAddTTL(uploaded.Hash, uploaded.Size, s.cfg.PutCacheTimeToLive)
	return uploaded, nil
}

// ExistsElsewhere reports whether some machine other than this one is
// already known to hold hash, checked first against the local tracker's
// recent-claimants record and then against the content-location index
// (§4.5b step 4).
func (s *Session) ExistsElsewhere(ctx context.Context, hash contenthash.ContentHash) (bool, error) {
	self := s.host.Cluster.PrimaryMachineId()

	claimants, err := s.host.Tracker.ClaimantsOtherThan(ctx, hash, self)
	if err != nil {
		return false, err
	}
	if len(claimants) > 0 {
		return true, nil
	}

	results, err := s.host.Resolver.GetLocations(ctx, resolver.LocationRequest{Hash: hash})
	if err != nil {
		return false, err
	}
	for _, result := range results {
		for _, id := range result.Existing() {
			if id == self {
				continue
			}
			if s.host.Cluster.IsInactive(id) {
				continue
			}
			return true, nil
		}
	}
	return false, nil
}
