package wire

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is a fully reassembled enveloped body together with the header
// metadata shared by its fragments. Flags never includes the last-fragment
// bit; it is a per-frame marker, not a property of the message.
type Message struct {
	Type  FrameType
	Flags byte
	Body  []byte
}

// Reassembler accumulates the fragments of one in-flight message from a
// single peer. A frame with sequence 0, or one whose type or total differs
// from the in-progress message, silently discards any partial state and
// starts a new message. Fragments may arrive out of order; they are indexed
// by sequence number and the same sequence arriving twice is a last-write-
// wins overwrite.
//
// Reassembler is safe for concurrent use, but frames from one peer must
// still be fed in arrival order for the reset semantics to be meaningful.
type Reassembler struct {
	mu         sync.Mutex
	active     bool
	frameType  FrameType
	flags      byte
	total      uint16
	chunks     map[uint16][]byte
	lastAppend time.Time
}

// NewReassembler creates an empty reassembly context for one peer link.
func NewReassembler() *Reassembler {
	return &Reassembler{
		chunks: make(map[uint16][]byte),
	}
}

// Append merges one received frame into the context. When the frame
// completes its message, the assembled Message is returned with done=true
// and the context is cleared. Missing sequence indexes are skipped during
// concatenation without error; callers must tolerate undetected holes.
func (r *Reassembler) Append(f *Frame) (msg *Message, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || f.Sequence == 0 || f.Type != r.frameType || f.Total != r.total {
		if r.active && len(r.chunks) > 0 {
			logrus.WithFields(logrus.Fields{
				"function":       "Append",
				"dropped_chunks": len(r.chunks),
				"old_type":       r.frameType,
				"new_type":       f.Type,
			}).Debug("Discarding partial message, new message started")
		}
		r.resetLocked()
		r.active = true
		r.frameType = f.Type
		r.total = f.Total
	}

	r.flags = f.Flags &^ FlagLastFragment
	r.chunks[f.Sequence] = f.Payload
	r.lastAppend = time.Now()

	if len(r.chunks) < int(r.total) {
		return nil, false
	}

	body := make([]byte, 0, r.bodySizeLocked())
	for seq := uint16(0); seq < r.total; seq++ {
		body = append(body, r.chunks[seq]...)
	}

	msg = &Message{
		Type:  r.frameType,
		Flags: r.flags,
		Body:  body,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Append",
		"type":      msg.Type,
		"fragments": r.total,
		"body_size": len(body),
	}).Debug("Message reassembly complete")

	r.resetLocked()

	return msg, true
}

// Pending reports whether a partially assembled message is in flight.
func (r *Reassembler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Expired reports whether the in-progress message has seen no new fragment
// for longer than ttl. A ttl of zero disables expiry.
func (r *Reassembler) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && now.Sub(r.lastAppend) > ttl
}

// Reset discards any partial state.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Reassembler) resetLocked() {
	r.active = false
	r.frameType = 0
	r.flags = 0
	r.total = 0
	r.chunks = make(map[uint16][]byte)
}

func (r *Reassembler) bodySizeLocked() int {
	size := 0
	for _, chunk := range r.chunks {
		size += len(chunk)
	}
	return size
}
