package session

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/randname"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// Stream is an open, already-unlinked file handle returned by OpenStream:
// reading it yields hash's bytes. The backing path is removed from the
// filesystem namespace as soon as the file is opened, and the OS reclaims
// the file's storage when the handle is closed (§4.5c: "delete-on-close").
type Stream struct {
	file *os.File
}

func (s *Stream) Read(p []byte) (int, error) { return s.file.Read(p) }

func (s *Stream) Close() error { return s.file.Close() }

// OpenStream materializes hash into a private temp file and hands back a
// delete-on-close handle (§4.5c). It shares tiers 1-3 with PlaceFile, but
// unlike PlaceFile's asynchronous persistent-tier populate, a persistent
// fallback here populates the local store synchronously before returning,
// so the stream handed back is never racing a background populate for the
// same bytes.
func (s *Session) OpenStream(ctx context.Context, hash contenthash.ContentHashWithSize) (*Stream, store.PlaceFileResult, error) {
	tempPath := filepath.Join(s.host.Workspace, "ec-stream-"+randname.LetterString(12)+".tmp")

	outcome, handled := s.placeLocalAndDatacenter(ctx, hash, tempPath, store.AccessModeReadOnly, store.ReplacementModeOverwrite, store.RealizationCopy)
	var result store.PlaceFileResult
	if handled {
		if outcome.err != nil {
			return nil, store.PlaceFileResult{}, outcome.err
		}
		result = outcome.result
	} else {
		r, err := s.openViaPersistentFallback(ctx, hash, tempPath)
		if err != nil {
			return nil, store.PlaceFileResult{}, err
		}
		result = r
	}

	file, err := openDeleteOnClose(tempPath)
	if err != nil {
		return nil, store.PlaceFileResult{}, err
	}
	return &Stream{file: file}, result, nil
}

// openViaPersistentFallback runs tier 4 for OpenStream: materialize from
// the persistent store, then populate the local store before returning, so
// the caller's stream is backed by bytes the local tier now also holds.
func (s *Session) openViaPersistentFallback(ctx context.Context, hash contenthash.ContentHashWithSize, tempPath string) (store.PlaceFileResult, error) {
	result, err := s.persistent.PlaceFile(ctx, hash, tempPath, store.AccessModeReadOnly, store.ReplacementModeOverwrite, store.RealizationCopy)
	if err != nil {
		return store.PlaceFileResult{}, err
	}
	result.Source = store.SourceBackingStore
	s.host.Elision.TryAddTTL(hash.Hash, result.Size, s.cfg.PutCacheTimeToLive)

	if _, err := s.local.PutFile(ctx, store.KnownHash(hash.Hash), tempPath, store.RealizationCopy); err != nil {
		s.logger.Warn("synchronous local populate failed", zap.String("hash", hash.Hash.ShortString()), zap.Error(err))
	}

	return result, nil
}

// openDeleteOnClose opens path and immediately unlinks it, the POSIX
// equivalent of Windows share-delete semantics (§4.5c): the returned handle
// keeps the inode alive for as long as it stays open, and the name
// disappears from the directory right away so no other caller can observe
// or collide with this temp file.
func openDeleteOnClose(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		_ = file.Close()
		return nil, err
	}
	return file, nil
}
