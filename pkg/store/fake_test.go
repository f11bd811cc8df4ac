package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

func TestFakeStorePutThenPlace(t *testing.T) {
	f := NewFake()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	put, err := f.PutFile(context.Background(), ByType(contenthash.Sha256), src, RealizationCopy)
	require.NoError(t, err)
	assert.False(t, put.AlreadyExists)
	assert.EqualValues(t, 5, put.Size)

	dst := filepath.Join(dir, "out.txt")
	place, err := f.PlaceFile(context.Background(), contenthash.ContentHashWithSize{Hash: put.Hash, Size: put.Size}, dst, AccessModeDefault, ReplacementModeRefuse, RealizationCopy)
	require.NoError(t, err)
	assert.Equal(t, SourceLocalCache, place.Source)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestFakeStorePutFileAlreadyExists(t *testing.T) {
	f := NewFake()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("dup"), 0o644))

	first, err := f.PutFile(context.Background(), ByType(contenthash.Sha256), src, RealizationCopy)
	require.NoError(t, err)
	assert.False(t, first.AlreadyExists)

	second, err := f.PutFile(context.Background(), ByType(contenthash.Sha256), src, RealizationCopy)
	require.NoError(t, err)
	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestFakeStorePutStreamStoresWholeStream(t *testing.T) {
	f := NewFake()
	stream := strings.NewReader("streamed")

	result, err := f.PutStream(context.Background(), ByType(contenthash.Vso0), stream, RealizationCopy)
	require.NoError(t, err)
	assert.EqualValues(t, len("streamed"), result.Size)
	assert.True(t, f.Has(result.Hash))
}

func TestFakeStorePlaceMissingIsNotFound(t *testing.T) {
	f := NewFake()
	h := contenthash.ComputeSha256([]byte("absent"))
	_, err := f.PlaceFile(context.Background(), contenthash.ContentHashWithSize{Hash: h, Size: 6}, filepath.Join(t.TempDir(), "x"), AccessModeDefault, ReplacementModeRefuse, RealizationCopy)
	require.Error(t, err)
}

func TestFakeStorePutTrustedFile(t *testing.T) {
	f := NewFake()
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("trusted"), 0o644))
	h := contenthash.ComputeSha256([]byte("trusted"))

	result, err := f.PutTrustedFile(context.Background(), contenthash.ContentHashWithSize{Hash: h, Size: 7}, tmp, RealizationCopy)
	require.NoError(t, err)
	assert.Equal(t, h, result.Hash)
	assert.True(t, f.Has(h))
}

func TestFakeStorePinTracksState(t *testing.T) {
	f := NewFake()
	h := contenthash.ComputeSha256([]byte("pin-me"))
	assert.False(t, f.Pinned(h))
	require.NoError(t, f.Pin(context.Background(), h))
	assert.True(t, f.Pinned(h))
}

func TestFakeStoreFailNext(t *testing.T) {
	f := NewFake()
	boom := assert.AnError
	f.FailNext(boom)
	err := f.Pin(context.Background(), contenthash.ComputeSha256([]byte("x")))
	assert.ErrorIs(t, err, boom)

	// the armed failure is single-shot
	assert.NoError(t, f.Pin(context.Background(), contenthash.ComputeSha256([]byte("x"))))
}
