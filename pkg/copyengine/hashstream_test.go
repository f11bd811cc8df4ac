package copyengine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

func TestHashingWriteStreamInlineMatchesDirectHash(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1024)
	var buf bytes.Buffer

	s, err := newHashingWriteStream(&buf, contenthash.Sha256, int64(len(data)), 1<<20)
	require.NoError(t, err)

	n, err := s.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got, _, _, err := s.Finish()
	require.NoError(t, err)
	assert.True(t, got.Equal(contenthash.ComputeSha256(data)))
	assert.Equal(t, data, buf.Bytes())
}

func TestHashingWriteStreamSwitchesToConcurrentAtBoundary(t *testing.T) {
	boundary := int64(16)
	data := bytes.Repeat([]byte("b"), 64)
	var buf bytes.Buffer

	s, err := newHashingWriteStream(&buf, contenthash.Sha256, -1, boundary)
	require.NoError(t, err)
	assert.False(t, s.concurrent)

	for i := 0; i < len(data); i += 8 {
		_, err := s.Write(data[i : i+8])
		require.NoError(t, err)
	}
	assert.True(t, s.concurrent, "writes past the boundary must switch to concurrent hashing")

	got, _, _, err := s.Finish()
	require.NoError(t, err)
	assert.True(t, got.Equal(contenthash.ComputeSha256(data)))
}

func TestHashingWriteStreamConcurrentFromByteZero(t *testing.T) {
	data := bytes.Repeat([]byte("c"), 32)
	var buf bytes.Buffer

	s, err := newHashingWriteStream(&buf, contenthash.Sha256, int64(len(data)), 8)
	require.NoError(t, err)
	assert.True(t, s.concurrent, "known size already over the boundary must hash concurrently from the start")

	_, err = s.Write(data)
	require.NoError(t, err)

	got, _, _, err := s.Finish()
	require.NoError(t, err)
	assert.True(t, got.Equal(contenthash.ComputeSha256(data)))
}

func TestNewStreamHasherRejectsUnknownTag(t *testing.T) {
	_, err := newStreamHasher(contenthash.HashType(200))
	require.Error(t, err)
	var bad *contenthash.BadHashType
	assert.ErrorAs(t, err, &bad)
}

type erroringWriter struct{}

func (erroringWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestHashingWriteStreamPropagatesWriteError(t *testing.T) {
	s, err := newHashingWriteStream(erroringWriter{}, contenthash.Sha256, -1, 1<<20)
	require.NoError(t, err)
	_, err = s.Write([]byte("x"))
	assert.Error(t, err)
}
