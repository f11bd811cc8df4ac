package copyengine

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"sync"
	"time"

	blake2b "github.com/minio/blake2b-simd"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// newStreamHasher returns an incremental hash.Hash for tag, the same
// families contenthash.ComputeSha256/ComputeVso0 compute over a whole
// buffer, but usable here a chunk at a time as bytes land on disk.
func newStreamHasher(tag contenthash.HashType) (hash.Hash, error) {
	switch tag {
	case contenthash.Sha256:
		return sha256.New(), nil
	case contenthash.Vso0:
		return blake2b.New256(), nil
	default:
		return nil, &contenthash.BadHashType{Tag: tag}
	}
}

// hashingWriteStream writes to a destination file while computing a
// streaming hash of everything written, per §4.4's "hashing write stream":
// inline up to ParallelHashingFileSizeBoundary bytes, then overlapped with
// subsequent writes on a background goroutine so I/O and hashing proceed
// concurrently rather than serially.
//
// Grounded on the teacher's pkg/cafs/writer.go fsWriter, which overlaps
// leaf hashing with writes via a worker pool; simplified here to a single
// background hasher since the copy engine streams one file at a time.
type hashingWriteStream struct {
	file             fileWriter
	hasher           hash.Hash
	tag              contenthash.HashType
	parallelBoundary int64
	written          int64
	concurrent       bool
	pending          chan []byte
	wg               sync.WaitGroup

	mu          sync.Mutex
	hashErr     error
	timeHashing time.Duration
	timeWriting time.Duration
}

type fileWriter interface {
	Write(p []byte) (int, error)
}

// newHashingWriteStream wraps file. If size is already known to meet or
// exceed parallelBoundary, hashing runs concurrently with writes from the
// first byte; otherwise it starts inline and switches over once written
// bytes cross the boundary (§4.4).
func newHashingWriteStream(file fileWriter, tag contenthash.HashType, size, parallelBoundary int64) (*hashingWriteStream, error) {
	hasher, err := newStreamHasher(tag)
	if err != nil {
		return nil, fmt.Errorf("hashing stream: %w", err)
	}
	s := &hashingWriteStream{file: file, hasher: hasher, tag: tag, parallelBoundary: parallelBoundary}
	if parallelBoundary >= 0 && size >= parallelBoundary {
		s.startConcurrent()
	}
	return s, nil
}

func (s *hashingWriteStream) startConcurrent() {
	s.concurrent = true
	s.pending = make(chan []byte, 8)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for chunk := range s.pending {
			start := time.Now()
			_, err := s.hasher.Write(chunk)
			elapsed := time.Since(start)
			s.mu.Lock()
			s.timeHashing += elapsed
			if err != nil && s.hashErr == nil {
				s.hashErr = err
			}
			s.mu.Unlock()
		}
	}()
}

// Write satisfies io.Writer: it writes to the destination file first, then
// folds the same bytes into the running hash, either inline or handed off
// to the background hasher.
func (s *hashingWriteStream) Write(p []byte) (int, error) {
	start := time.Now()
	n, err := s.file.Write(p)
	s.mu.Lock()
	s.timeWriting += time.Since(start)
	s.mu.Unlock()
	if err != nil {
		return n, err
	}
	s.written += int64(n)

	if !s.concurrent && s.parallelBoundary >= 0 && s.written >= s.parallelBoundary {
		s.startConcurrent()
	}

	chunk := append([]byte(nil), p[:n]...)
	if s.concurrent {
		s.pending <- chunk
		return n, nil
	}

	hstart := time.Now()
	_, herr := s.hasher.Write(chunk)
	s.mu.Lock()
	s.timeHashing += time.Since(hstart)
	s.mu.Unlock()
	if herr != nil {
		return n, herr
	}
	return n, nil
}

// Finish drains any in-flight background hashing and returns the computed
// ContentHash along with cumulative hashing/writing durations.
func (s *hashingWriteStream) Finish() (contenthash.ContentHash, time.Duration, time.Duration, error) {
	if s.concurrent {
		close(s.pending)
		s.wg.Wait()
	}
	s.mu.Lock()
	hashErr := s.hashErr
	timeHashing := s.timeHashing
	timeWriting := s.timeWriting
	s.mu.Unlock()
	if hashErr != nil {
		return contenthash.ContentHash{}, timeHashing, timeWriting, hashErr
	}

	sum := s.hasher.Sum(nil)
	h, err := contenthash.New(s.tag, sum)
	return h, timeHashing, timeWriting, err
}
