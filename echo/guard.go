// Package echo implements loop prevention for the clipboard sync pipeline.
//
// Writing received content to the local clipboard fires the platform's own
// change notification, which would immediately be sent back to the peer and
// bounce forever. The Guard records the digest of the most recently received
// content and an ignore-next-local-change flag so the pipeline can treat
// exactly one change notification as self-inflicted.
package echo

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// HashSize is the content digest length in bytes.
const HashSize = blake2b.Size256

// ContentHash returns the digest of de-enveloped clipboard content, before
// the sender identity prefix is applied.
func ContentHash(content []byte) [HashSize]byte {
	return blake2b.Sum256(content)
}

// Guard is a single-slot echo suppressor: it only prevents the immediate
// echo of the most recent receive, not later re-sends of old content. Safe
// for concurrent use.
type Guard struct {
	mu         sync.Mutex
	hash       [HashSize]byte
	valid      bool
	ignoreNext bool
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// MarkReceived records the digest of content just accepted from the peer
// and arms the ignore-next-local-change flag. The slot is overwritten on
// every accepted receive.
func (g *Guard) MarkReceived(hash [HashSize]byte) {
	g.mu.Lock()
	g.hash = hash
	g.valid = true
	g.ignoreNext = true
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "MarkReceived",
		"hash_prefix": hash[:4],
	}).Debug("Recorded received content hash")
}

// ShouldSkipSend reports whether hash matches the digest recorded from the
// most recent successful receive.
func (g *Guard) ShouldSkipSend(hash [HashSize]byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valid && g.hash == hash
}

// ConsumeIgnoreFlag returns the ignore-next-local-change flag and clears
// it. The clipboard change handler must call this exactly once per change
// notification, treating one change as self-inflicted when it returns true.
func (g *Guard) ConsumeIgnoreFlag() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ignore := g.ignoreNext
	g.ignoreNext = false
	return ignore
}
