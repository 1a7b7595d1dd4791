package bleclip

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bleclip/clipboard"
	"github.com/opd-ai/bleclip/echo"
	"github.com/opd-ai/bleclip/envelope"
	"github.com/opd-ai/bleclip/identity"
	"github.com/opd-ai/bleclip/pairing"
	"github.com/opd-ai/bleclip/transport"
	"github.com/opd-ai/bleclip/trust"
	"github.com/opd-ai/bleclip/wire"
)

// ContentCallback is invoked after received content has been accepted and
// written to the clipboard collaborator.
type ContentCallback func(senderID uint64, content *clipboard.Content)

// PairedCallback is invoked when a pairing handshake completes and the
// derived key has been installed.
type PairedCallback func(key []byte)

// Session is the message pipeline for one connected peer. It owns all
// per-connection mutable state (reassembly context, echo guard, envelope
// key), so a multi-peer application constructs one Session per link.
//
// Send path: identity prefix, envelope, fragmentation, transport emission
// in sequence order. Receive path: reassembly, envelope removal, self-echo
// and trust gating, clipboard delivery.
type Session struct {
	opts    *Options
	localID identity.DeviceID
	codec   *envelope.Codec
	reasm   *wire.Reassembler
	guard   *echo.Guard
	store   *trust.Store
	link    transport.Transport
	clip    clipboard.Provider

	// recvMu serializes the inbound path; frames for one peer must be
	// processed in arrival order.
	recvMu sync.Mutex
	// sendMu keeps one outbound message's frames contiguous on the link.
	sendMu sync.Mutex

	pairMu    sync.Mutex
	handshake *pairing.Handshake

	cbMu      sync.RWMutex
	onContent ContentCallback
	onPaired  PairedCallback
}

// NewSession creates a Session over the given link and clipboard
// collaborator and begins consuming inbound frames.
func NewSession(opts *Options, link transport.Transport, clip clipboard.Provider) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}

	var localID identity.DeviceID
	var err error
	if opts.IdentityPath != "" {
		localID, err = identity.Load(opts.IdentityPath)
	} else {
		localID, err = identity.Generate()
	}
	if err != nil {
		return nil, fmt.Errorf("bleclip: device identity: %w", err)
	}

	codec := envelope.NewCodec(opts.CompressionThreshold)
	if len(opts.SharedKey) > 0 {
		if err := codec.SetKey(opts.SharedKey); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewSession",
				"error":    err,
			}).Warn("Invalid shared key, session degrades to plaintext")
		}
	}

	store := trust.NewStore(opts.TrustPath, opts.Consent)
	if err := store.Load(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewSession",
			"error":    err,
		}).Warn("Failed to load trust store, starting empty")
	}

	s := &Session{
		opts:    opts,
		localID: localID,
		codec:   codec,
		reasm:   wire.NewReassembler(),
		guard:   echo.NewGuard(),
		store:   store,
		link:    link,
		clip:    clip,
	}
	link.SetReceiveHandler(s.handleFrame)

	logrus.WithFields(logrus.Fields{
		"function":  "NewSession",
		"device_id": localID.String(),
		"encrypted": codec.HasKey(),
	}).Info("Session created")

	return s, nil
}

// LocalID returns the device's own identifier.
func (s *Session) LocalID() uint64 {
	return uint64(s.localID)
}

// Trust returns the session's trust store for list management.
func (s *Session) Trust() *trust.Store {
	return s.store
}

// OnContentReceived registers the accepted-content callback.
func (s *Session) OnContentReceived(cb ContentCallback) {
	s.cbMu.Lock()
	s.onContent = cb
	s.cbMu.Unlock()
}

// OnPaired registers the pairing-complete callback.
func (s *Session) OnPaired(cb PairedCallback) {
	s.cbMu.Lock()
	s.onPaired = cb
	s.cbMu.Unlock()
}

// HandleLocalChange processes one clipboard change notification from the
// platform watcher. Exactly one change after an accepted receive is treated
// as self-inflicted and not re-sent.
func (s *Session) HandleLocalChange(content *clipboard.Content) error {
	if s.guard.ConsumeIgnoreFlag() {
		logrus.WithField("function", "HandleLocalChange").
			Debug("Ignoring self-inflicted clipboard change")
		return nil
	}
	return s.SendContent(content)
}

// SendContent envelopes, fragments, and emits content to the peer. Content
// matching the most recent receive is skipped to prevent an echo loop.
// Emission stops at the first transport error; there is no retry.
func (s *Session) SendContent(content *clipboard.Content) error {
	body, err := content.MarshalBody()
	if err != nil {
		return fmt.Errorf("bleclip: encode content: %w", err)
	}

	hash := echo.ContentHash(body)
	if s.guard.ShouldSkipSend(hash) {
		logrus.WithFields(logrus.Fields{
			"function": "SendContent",
			"type":     content.Type,
		}).Debug("Skipping send of just-received content")
		return nil
	}

	message := make([]byte, identity.Size+len(body))
	binary.BigEndian.PutUint64(message[:identity.Size], uint64(s.localID))
	copy(message[identity.Size:], body)

	wrapped, flags, err := s.codec.Wrap(message, byte(content.Type))
	if err != nil {
		return fmt.Errorf("bleclip: envelope content: %w", err)
	}

	frames, err := wire.EncodeFrames(wire.FrameType(content.Type), flags, wrapped, s.opts.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("bleclip: fragment content: %w", err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for i := range frames {
		if err := s.link.Send(frames[i].Serialize()); err != nil {
			return fmt.Errorf("bleclip: send frame %d/%d: %w", i+1, len(frames), err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SendContent",
		"type":      content.Type,
		"flags":     fmt.Sprintf("0x%02x", flags),
		"fragments": len(frames),
		"body_size": len(body),
	}).Info("Content sent")

	return nil
}

// StartPairing begins a key-agreement handshake with the peer. On success
// both sessions install the same envelope key; see OnPaired.
func (s *Session) StartPairing() error {
	s.pairMu.Lock()
	hs, err := pairing.NewHandshake(true)
	if err != nil {
		s.pairMu.Unlock()
		return err
	}
	s.handshake = hs
	first, err := hs.Start()
	s.pairMu.Unlock()
	if err != nil {
		return err
	}
	return s.sendPairingFrame(first)
}

// handleFrame is the transport receive handler.
func (s *Session) handleFrame(raw []byte) {
	frame, err := wire.ParseFrame(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"size":     len(raw),
			"error":    err,
		}).Debug("Dropping malformed frame")
		return
	}

	if frame.Type == wire.FramePairing {
		s.handlePairingFrame(frame)
		return
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.reasm.Expired(time.Now(), s.opts.ReassemblyTimeout) {
		logrus.WithField("function", "handleFrame").
			Debug("Evicting stale partial message")
		s.reasm.Reset()
	}

	msg, done := s.reasm.Append(frame)
	if !done {
		return
	}
	s.deliver(msg)
}

// deliver runs the receive pipeline on a reassembled message. All failures
// are local and silent to the wire.
func (s *Session) deliver(msg *wire.Message) {
	body, err := s.codec.Unwrap(msg.Body, byte(msg.Type), msg.Flags)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"type":     msg.Type,
			"error":    err,
		}).Warn("Dropping undecodable message")
		return
	}

	if len(body) < identity.Size {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"size":     len(body),
		}).Warn("Dropping message shorter than sender identity")
		return
	}
	senderID := binary.BigEndian.Uint64(body[:identity.Size])
	contentBytes := body[identity.Size:]

	if senderID == uint64(s.localID) {
		logrus.WithField("function", "deliver").
			Debug("Dropping self-echoed message")
		return
	}

	content, err := clipboard.UnmarshalBody(clipboard.ContentType(msg.Type), contentBytes)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"type":     msg.Type,
			"error":    err,
		}).Warn("Dropping message with invalid content")
		return
	}

	if !s.store.EnsureTrusted(senderID) {
		logrus.WithFields(logrus.Fields{
			"function":  "deliver",
			"sender_id": identity.DeviceID(senderID).String(),
			"error":     ErrUntrustedSender,
		}).Warn("Dropping content from untrusted sender")
		return
	}

	s.guard.MarkReceived(echo.ContentHash(contentBytes))

	if s.clip != nil {
		if err := s.clip.Write(content); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "deliver",
				"error":    err,
			}).Warn("Failed to write received content to clipboard")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "deliver",
		"sender_id": identity.DeviceID(senderID).String(),
		"type":      content.Type,
	}).Info("Content received")

	s.cbMu.RLock()
	cb := s.onContent
	s.cbMu.RUnlock()
	if cb != nil {
		cb(senderID, content)
	}
}

// handlePairingFrame advances the key-agreement handshake. Pairing messages
// fit a single frame and bypass the envelope and trust gates; trust still
// applies to every content message afterwards.
func (s *Session) handlePairingFrame(frame *wire.Frame) {
	s.pairMu.Lock()
	if s.handshake == nil {
		hs, err := pairing.NewHandshake(false)
		if err != nil {
			s.pairMu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "handlePairingFrame",
				"error":    err,
			}).Warn("Failed to create pairing responder")
			return
		}
		s.handshake = hs
	}

	reply, err := s.handshake.HandleMessage(frame.Payload)
	if err != nil {
		s.handshake = nil
		s.pairMu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handlePairingFrame",
			"error":    err,
		}).Warn("Pairing handshake failed")
		return
	}

	var key []byte
	if s.handshake.Complete() {
		key, err = s.handshake.SharedKey()
		s.handshake = nil
		if err != nil {
			s.pairMu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "handlePairingFrame",
				"error":    err,
			}).Warn("Pairing key derivation failed")
			return
		}
	}
	s.pairMu.Unlock()

	// The reply goes out before the key is installed so the initiator can
	// finish its side; neither end encrypts until its handshake completes.
	if reply != nil {
		if err := s.sendPairingFrame(reply); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handlePairingFrame",
				"error":    err,
			}).Warn("Failed to send pairing reply")
			return
		}
	}

	if key != nil {
		if err := s.codec.SetKey(key); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handlePairingFrame",
				"error":    err,
			}).Warn("Failed to install pairing key")
			return
		}

		logrus.WithField("function", "handlePairingFrame").
			Info("Pairing complete, envelope key installed")

		s.cbMu.RLock()
		cb := s.onPaired
		s.cbMu.RUnlock()
		if cb != nil {
			cb(key)
		}
	}
}

func (s *Session) sendPairingFrame(payload []byte) error {
	frames, err := wire.EncodeFrames(wire.FramePairing, 0, payload, s.opts.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("bleclip: fragment pairing message: %w", err)
	}
	if len(frames) != 1 {
		return fmt.Errorf("bleclip: pairing message needs %d frames, must fit one", len(frames))
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.link.Send(frames[0].Serialize())
}
