// Package contenthash implements the tagged content identifiers consumed
// throughout the ephemeral cache core (§3 "ContentHash").
//
// The hash *functions* themselves are treated as an external contract: this
// package only knows how to compute the two families the core is asked to
// verify against (Sha256 and the Vso0/dedup family, both grounded on
// libraries the teacher repo already depends on), and how to serialize,
// compare, and order the resulting identifiers. Everything else about a
// hash's meaning belongs to the caller.
package contenthash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

// HashType tags the algorithm family a ContentHash belongs to. The zero
// value, Unknown, is never valid for a constructed hash (§3 invariant).
type HashType uint8

const (
	// Unknown is the invalid zero value.
	Unknown HashType = iota
	// Sha256 is a plain 32-byte SHA-256 digest.
	Sha256
	// Vso0 is a 32-byte BLAKE2b digest, the "datacenter" hash family used
	// when content is addressed across the ephemeral ring rather than
	// against the origin blob store.
	Vso0
	// Dedup64K tags a hash computed over 64KiB dedup chunks.
	Dedup64K
	// Dedup1024K tags a hash computed over 1MiB dedup chunks.
	Dedup1024K
)

func (t HashType) String() string {
	switch t {
	case Sha256:
		return "SHA256"
	case Vso0:
		return "VSO0"
	case Dedup64K:
		return "DEDUP64K"
	case Dedup1024K:
		return "DEDUP1024K"
	default:
		return "UNKNOWN"
	}
}

// MaxPayloadLen is the fixed width of the "full" serialized payload: long
// enough to hold the meaningful bytes of every known HashType.
const MaxPayloadLen = 32

// ShortHashPrefixBytes is how many leading bytes ShortString keeps.
const ShortHashPrefixBytes = 6

// meaningfulLength returns how many leading bytes of the payload are
// significant for the given tag; it is a function of the tag alone (§3).
func meaningfulLength(t HashType) int {
	switch t {
	case Sha256, Vso0, Dedup64K, Dedup1024K:
		return 32
	default:
		return 0
	}
}

// BadHashType is returned when a tag has no known meaningful length.
type BadHashType struct {
	Tag HashType
}

func (e *BadHashType) Error() string {
	return fmt.Sprintf("content hash tag %v is not a recognized hash type", e.Tag)
}

// BadKeySize is returned when a payload does not match the length its tag
// requires.
type BadKeySize struct {
	Tag      HashType
	Got      int
	Expected int
}

func (e *BadKeySize) Error() string {
	return fmt.Sprintf("content hash of type %v has invalid size %d, expected %d", e.Tag, e.Got, e.Expected)
}

// ContentHash is a tagged, fixed-width content identifier (§3). Two hashes
// are equal iff their tag and meaningful bytes are equal; zero value is
// invalid.
type ContentHash struct {
	tag     HashType
	payload [MaxPayloadLen]byte
}

// New builds a ContentHash from a tag and its meaningful bytes.
func New(tag HashType, data []byte) (ContentHash, error) {
	n := meaningfulLength(tag)
	if n == 0 {
		return ContentHash{}, &BadHashType{Tag: tag}
	}
	if len(data) != n {
		return ContentHash{}, &BadKeySize{Tag: tag, Got: len(data), Expected: n}
	}
	var h ContentHash
	h.tag = tag
	copy(h.payload[:n], data)
	return h, nil
}

// MustNew is New but panics on error; for tests and constant-ish call sites.
func MustNew(tag HashType, data []byte) ContentHash {
	h, err := New(tag, data)
	if err != nil {
		panic(err)
	}
	return h
}

// ComputeSha256 hashes data with SHA-256 and tags the result Sha256.
func ComputeSha256(data []byte) ContentHash {
	sum := sha256.Sum256(data)
	h, _ := New(Sha256, sum[:])
	return h
}

// ComputeVso0 hashes data with BLAKE2b-256 and tags the result Vso0.
func ComputeVso0(data []byte) ContentHash {
	sum := blake2b.Sum256(data)
	h, _ := New(Vso0, sum[:])
	return h
}

// Tag returns the hash's type tag.
func (h ContentHash) Tag() HashType { return h.tag }

// IsValid reports whether the hash has a recognized, non-Unknown tag.
func (h ContentHash) IsValid() bool { return meaningfulLength(h.tag) > 0 }

// Bytes returns the meaningful payload bytes (length determined by Tag()).
func (h ContentHash) Bytes() []byte {
	n := meaningfulLength(h.tag)
	out := make([]byte, n)
	copy(out, h.payload[:n])
	return out
}

// Equal reports whether two hashes have the same tag and meaningful bytes.
func (h ContentHash) Equal(other ContentHash) bool {
	if h.tag != other.tag {
		return false
	}
	n := meaningfulLength(h.tag)
	return bytes.Equal(h.payload[:n], other.payload[:n])
}

// Compare orders hashes lexicographically over bytes, then by tag (§3).
func (h ContentHash) Compare(other ContentHash) int {
	an, bn := meaningfulLength(h.tag), meaningfulLength(other.tag)
	a, b := h.payload[:an], other.payload[:bn]
	if c := bytes.Compare(a, b); c != 0 {
		return c
	}
	if h.tag < other.tag {
		return -1
	}
	if h.tag > other.tag {
		return 1
	}
	return 0
}

// String renders the full hex form: tag name, colon, meaningful hex bytes.
func (h ContentHash) String() string {
	return fmt.Sprintf("%s:%s", h.tag, hex.EncodeToString(h.Bytes()))
}

// ShortString truncates the payload to ShortHashPrefixBytes for logging,
// per §3's "short-hash form".
func (h ContentHash) ShortString() string {
	b := h.Bytes()
	if len(b) > ShortHashPrefixBytes {
		b = b[:ShortHashPrefixBytes]
	}
	return fmt.Sprintf("%s:%s", h.tag, hex.EncodeToString(b))
}

// MarshalTrimmed serializes the hash as one tag byte followed by exactly
// its meaningful-length payload (§3 "trimmed" form).
func (h ContentHash) MarshalTrimmed() []byte {
	n := meaningfulLength(h.tag)
	out := make([]byte, 1+n)
	out[0] = byte(h.tag)
	copy(out[1:], h.payload[:n])
	return out
}

// UnmarshalTrimmed parses the trimmed serialization produced by
// MarshalTrimmed.
func UnmarshalTrimmed(buf []byte) (ContentHash, error) {
	if len(buf) < 1 {
		return ContentHash{}, fmt.Errorf("contenthash: trimmed buffer too short: %d bytes", len(buf))
	}
	tag := HashType(buf[0])
	n := meaningfulLength(tag)
	if n == 0 {
		return ContentHash{}, &BadHashType{Tag: tag}
	}
	if len(buf)-1 != n {
		return ContentHash{}, &BadKeySize{Tag: tag, Got: len(buf) - 1, Expected: n}
	}
	return New(tag, buf[1:])
}

// MarshalFull serializes the hash as one tag byte followed by a fixed
// MaxPayloadLen payload, zero-padded beyond the meaningful length (§3
// "full" form).
func (h ContentHash) MarshalFull() []byte {
	out := make([]byte, 1+MaxPayloadLen)
	out[0] = byte(h.tag)
	copy(out[1:], h.payload[:])
	return out
}

// UnmarshalFull parses the full (fixed-width) serialization produced by
// MarshalFull.
func UnmarshalFull(buf []byte) (ContentHash, error) {
	if len(buf) != 1+MaxPayloadLen {
		return ContentHash{}, fmt.Errorf("contenthash: full buffer must be %d bytes, got %d", 1+MaxPayloadLen, len(buf))
	}
	tag := HashType(buf[0])
	n := meaningfulLength(tag)
	if n == 0 {
		return ContentHash{}, &BadHashType{Tag: tag}
	}
	return New(tag, buf[1:1+n])
}
