// Package envelope implements the compression and authenticated-encryption
// wrapping applied to a message body before fragmentation.
//
// Wrapping order is fixed: compress, then encrypt. Unwrapping reverses it:
// decrypt first, then decompress. The frame type and the final flags byte
// are bound into the AEAD associated data, so a tampered header invalidates
// the authentication tag.
//
// Example:
//
//	codec := envelope.NewCodec(envelope.DefaultCompressionThreshold)
//	if err := codec.SetKey(sharedKey); err != nil {
//	    log.Fatal(err)
//	}
//	wrapped, flags, err := codec.Wrap(body, frameType)
package envelope

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// FlagCompressed marks a body that carries a length-prefixed deflate
	// stream.
	FlagCompressed byte = 1 << 1
	// FlagEncrypted marks a body wrapped as nonce || ciphertext || tag.
	FlagEncrypted byte = 1 << 2
)

const (
	// NonceSize is the AEAD nonce length in bytes.
	NonceSize = 12
	// TagSize is the AEAD authentication tag length in bytes.
	TagSize = 16
	// DefaultCompressionThreshold is the minimum body size that triggers
	// compression.
	DefaultCompressionThreshold = 256

	// lengthPrefixSize is the original-length prefix of a compressed body.
	lengthPrefixSize = 4

	// maxDecompressedSize bounds inflate output to keep a corrupt or
	// hostile length prefix from exhausting memory.
	maxDecompressedSize = 64 << 20
)

// ErrDecrypt indicates an undecryptable body: too short, no key configured,
// or AEAD verification failure from a wrong key, corrupted ciphertext, or
// mismatched associated data.
var ErrDecrypt = errors.New("envelope: decryption failed")

// ErrDecompress indicates that the declared original length cannot be
// produced from the compressed stream.
var ErrDecompress = errors.New("envelope: decompression failed")

// ErrKeySize indicates a shared key that is not 16, 24, or 32 bytes.
var ErrKeySize = errors.New("envelope: key must be 16, 24, or 32 bytes")

// Codec applies and reverses the envelope for one peer link. A Codec with
// no key installed degrades to plaintext: bodies are sent in the clear with
// the encrypted bit unset. Codec is safe for concurrent use.
type Codec struct {
	mu        sync.RWMutex
	aead      cipher.AEAD
	threshold int
}

// NewCodec creates a Codec with no key installed. A threshold below 1
// selects DefaultCompressionThreshold.
func NewCodec(threshold int) *Codec {
	if threshold < 1 {
		threshold = DefaultCompressionThreshold
	}
	return &Codec{threshold: threshold}
}

// SetKey installs the shared AEAD key (AES-128/192/256-GCM by key length).
// Installing a key replaces any previous one.
func (c *Codec) SetKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: got %d", ErrKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("envelope: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("envelope: create GCM: %w", err)
	}

	c.mu.Lock()
	c.aead = aead
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SetKey",
		"key_bits": len(key) * 8,
	}).Info("Envelope key installed")

	return nil
}

// HasKey reports whether a shared key is installed.
func (c *Codec) HasKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aead != nil
}

// Wrap envelopes a message body and returns the wrapped bytes together with
// the flags byte describing the applied layers. Bodies at or above the
// compression threshold are deflated first; deflate failure degrades to the
// uncompressed body. If a key is installed the (possibly compressed) body is
// sealed as nonce || ciphertext || tag with AAD = [frameType, flags];
// without a key the body goes out in the clear.
func (c *Codec) Wrap(body []byte, frameType byte) ([]byte, byte, error) {
	var flags byte
	out := body

	if len(body) >= c.threshold {
		compressed, err := compress(body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Wrap",
				"body_size": len(body),
				"error":     err,
			}).Warn("Compression failed, sending uncompressed")
		} else {
			out = compressed
			flags |= FlagCompressed
		}
	}

	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	if aead != nil {
		flags |= FlagEncrypted

		nonce := make([]byte, NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, 0, fmt.Errorf("envelope: generate nonce: %w", err)
		}

		aad := []byte{frameType, flags}
		out = aead.Seal(nonce, nonce, out, aad)
	}

	return out, flags, nil
}

// Unwrap reverses the envelope using the received frame type and flags. The
// received values are used as AAD verbatim, so any header tampering fails
// authentication. A post-inflate length mismatch against the declared
// original length is logged but not fatal; the inflated bytes are used.
func (c *Codec) Unwrap(data []byte, frameType byte, flags byte) ([]byte, error) {
	body := data

	if flags&FlagEncrypted != 0 {
		if len(body) < NonceSize+TagSize {
			return nil, fmt.Errorf("%w: %d bytes is shorter than nonce and tag", ErrDecrypt, len(body))
		}

		c.mu.RLock()
		aead := c.aead
		c.mu.RUnlock()
		if aead == nil {
			return nil, fmt.Errorf("%w: no key configured", ErrDecrypt)
		}

		aad := []byte{frameType, flags}
		plain, err := aead.Open(nil, body[:NonceSize], body[NonceSize:], aad)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
		body = plain
	}

	if flags&FlagCompressed != 0 {
		inflated, err := decompress(body)
		if err != nil {
			return nil, err
		}
		body = inflated
	}

	return body, nil
}

func compress(body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, errors.New("body exceeds length prefix range")
	}

	var buf bytes.Buffer
	buf.Grow(lengthPrefixSize + len(body)/2)

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	buf.Write(prefix[:])

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < lengthPrefixSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than length prefix", ErrDecompress, len(data))
	}

	declared := binary.BigEndian.Uint32(data[:lengthPrefixSize])

	r := flate.NewReader(bytes.NewReader(data[lengthPrefixSize:]))
	defer r.Close()

	inflated, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if len(inflated) > maxDecompressedSize {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrDecompress, maxDecompressedSize)
	}

	if uint64(len(inflated)) != uint64(declared) {
		logrus.WithFields(logrus.Fields{
			"function": "decompress",
			"declared": declared,
			"actual":   len(inflated),
		}).Warn("Decompressed length differs from declared original length")
	}

	return inflated, nil
}
