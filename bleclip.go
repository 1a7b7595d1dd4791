package bleclip

import (
	"errors"
	"time"

	"github.com/opd-ai/bleclip/envelope"
	"github.com/opd-ai/bleclip/trust"
	"github.com/opd-ai/bleclip/wire"
)

// ErrUntrustedSender indicates a message that decoded successfully but
// whose sender identity was not trust-approved. The content is never
// delivered to the clipboard.
var ErrUntrustedSender = errors.New("bleclip: sender is not trusted")

// Options contains configuration for creating a Session.
type Options struct {
	// IdentityPath is the file holding the persistent 8-byte device
	// identity. Empty generates an ephemeral identity.
	IdentityPath string
	// TrustPath is the file backing the trust store. Empty disables
	// trust persistence.
	TrustPath string
	// SharedKey is the AEAD key (16, 24, or 32 bytes). Empty or invalid
	// keys degrade the session to plaintext until pairing installs one.
	SharedKey []byte
	// MaxChunkSize bounds each frame's payload.
	MaxChunkSize int
	// CompressionThreshold is the minimum body size that triggers
	// compression.
	CompressionThreshold int
	// ReassemblyTimeout evicts a stale partial inbound message when a new
	// frame arrives after this much idle time. Zero disables eviction.
	ReassemblyTimeout time.Duration
	// Consent decides whether an unknown sender may update the local
	// clipboard. Nil denies all unknown senders.
	Consent trust.ConsentFunc
}

// NewOptions creates Options with the recommended defaults.
func NewOptions() *Options {
	return &Options{
		MaxChunkSize:         wire.DefaultMaxChunkSize,
		CompressionThreshold: envelope.DefaultCompressionThreshold,
		ReassemblyTimeout:    30 * time.Second,
	}
}
