// Package randname generates random names, used by the copy engine to
// build globally-unique temp file paths in the shared working folder
// (§5: "temp file names MUST be globally unique per call").
package randname

import (
	"bytes"
	"math/rand"
	"sync"
	"time"
)

var (
	onceSource  sync.Once
	rgen        *rand.Rand
	onceLetters sync.Once
	randMutex   sync.Mutex
	letters     []byte
)

func seed() {
	src := rand.NewSource(time.Now().UnixNano())
	rgen = rand.New(src) // #nosec
}

func randBytes(n int) []byte {
	onceSource.Do(seed)
	buf := make([]byte, n)
	randMutex.Lock() // contention here is negligible compared to the I/O this guards
	_, _ = rgen.Read(buf)
	randMutex.Unlock()
	return buf
}

func makeLetters() {
	// repeat to cover the full byte range without biasing any one letter much
	letters = bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789a"), 7)
}

// LetterString returns a random string of n characters picked from
// [0-9a-z], suitable for use as a filename component.
func LetterString(n int) string {
	onceLetters.Do(makeLetters)
	buf := randBytes(n)
	for i, b := range buf {
		buf[i] = letters[b]
	}
	return string(buf)
}
