// Package pairing implements the key-agreement handshake that derives the
// shared envelope key between two devices over the same BLE link.
//
// The handshake is Noise NN (two messages, ephemeral keys only): neither
// device needs pre-provisioned key material, and both ends derive the same
// 32-byte key from the handshake channel binding. Pairing messages travel
// as dedicated control frames and never pass through the envelope codec.
//
// Example:
//
//	hs, err := pairing.NewHandshake(true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	first, err := hs.Start()
//	// send first to the peer, feed replies to hs.HandleMessage
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// KeySize is the derived shared key length in bytes.
const KeySize = 32

// ErrHandshakeState indicates a message fed to the handshake out of order,
// or key extraction before completion.
var ErrHandshakeState = errors.New("pairing: invalid handshake state")

// Handshake is one side of a Noise NN key agreement. Not safe for
// concurrent use; the session serializes access.
type Handshake struct {
	hs        *noise.HandshakeState
	initiator bool
	started   bool
	complete  bool
}

// NewHandshake creates a handshake side. The device that initiates pairing
// passes initiator=true and calls Start; the other side is constructed on
// receipt of the first pairing frame and only calls HandleMessage.
func NewHandshake(initiator bool) (*Handshake, error) {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cs,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("pairing: create handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewHandshake",
		"initiator": initiator,
	}).Debug("Pairing handshake created")

	return &Handshake{hs: hs, initiator: initiator}, nil
}

// Start produces the first handshake message. Initiator side only.
func (h *Handshake) Start() ([]byte, error) {
	if !h.initiator || h.started || h.complete {
		return nil, ErrHandshakeState
	}

	msg, _, _, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pairing: write handshake message: %w", err)
	}
	h.started = true
	return msg, nil
}

// HandleMessage consumes a handshake message from the peer and returns the
// reply to send, or nil when the exchange needs no further message. After
// the terminal message Complete reports true on both sides.
func (h *Handshake) HandleMessage(msg []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeState
	}

	if h.initiator {
		if !h.started {
			return nil, ErrHandshakeState
		}
		// Second and final NN message.
		if _, _, _, err := h.hs.ReadMessage(nil, msg); err != nil {
			return nil, fmt.Errorf("pairing: read handshake message: %w", err)
		}
		h.complete = true
		return nil, nil
	}

	// Responder: read the opening message, answer with the closing one.
	if _, _, _, err := h.hs.ReadMessage(nil, msg); err != nil {
		return nil, fmt.Errorf("pairing: read handshake message: %w", err)
	}
	reply, _, _, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pairing: write handshake message: %w", err)
	}
	h.started = true
	h.complete = true
	return reply, nil
}

// Complete reports whether the handshake has finished.
func (h *Handshake) Complete() bool {
	return h.complete
}

// SharedKey returns the 32-byte key both sides derive from the handshake
// channel binding. Only valid after Complete reports true.
func (h *Handshake) SharedKey() ([]byte, error) {
	if !h.complete {
		return nil, ErrHandshakeState
	}

	binding := h.hs.ChannelBinding()
	if len(binding) < KeySize {
		return nil, fmt.Errorf("pairing: channel binding too short: %d bytes", len(binding))
	}

	key := make([]byte, KeySize)
	copy(key, binding[:KeySize])
	return key, nil
}
