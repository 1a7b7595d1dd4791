// Package wire implements the frame layer of the clipboard sync protocol.
//
// This package handles splitting an enveloped message body into bounded
// frames that fit a BLE GATT write, and parsing received frames back into
// their header fields and payload.
//
// Example:
//
//	frames, err := wire.EncodeFrames(wire.FrameText, flags, body, 180)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, f := range frames {
//	    transport.Send(f.Serialize())
//	}
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType identifies the content kind carried by a frame.
type FrameType byte

const (
	// FrameText carries raw UTF-8 text.
	FrameText FrameType = iota + 1
	// FrameImage carries PNG-encoded image bytes.
	FrameImage
	// FrameFile carries a file name and its contents.
	FrameFile
	// FramePairing carries a key-agreement handshake message. Pairing
	// frames bypass the envelope codec entirely.
	FramePairing
)

// FlagLastFragment marks the terminal fragment of a message. The
// compression and encryption flag bits are defined by the envelope package;
// the frame layer treats them as opaque.
const FlagLastFragment byte = 1 << 0

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 8

// DefaultMaxChunkSize is the recommended per-frame payload bound. It keeps
// a full frame under typical BLE ATT MTU after GATT overhead.
const DefaultMaxChunkSize = 180

// maxPayloadSize is the largest payload the u16 length field can describe.
const maxPayloadSize = 0xFFFF

// ErrMalformedFrame indicates a truncated or inconsistent frame header.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrMessageTooLarge indicates a body that cannot be described by the
// 16-bit fragment counters.
var ErrMessageTooLarge = errors.New("message exceeds maximum fragment count")

// Frame is the unit placed on the wire.
//
// Layout, big-endian: type (1) | flags (1) | sequence (2) | total (2) |
// length (2) | payload (length bytes).
type Frame struct {
	Type     FrameType
	Flags    byte
	Sequence uint16
	Total    uint16
	Payload  []byte
}

// Last reports whether this frame terminates its message.
func (f *Frame) Last() bool {
	return f.Flags&FlagLastFragment != 0
}

// Serialize converts a frame to its wire representation.
func (f *Frame) Serialize() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	buf[1] = f.Flags
	binary.BigEndian.PutUint16(buf[2:4], f.Sequence)
	binary.BigEndian.PutUint16(buf[4:6], f.Total)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// ParseFrame converts raw received bytes into a Frame. It fails with
// ErrMalformedFrame if fewer than HeaderSize bytes are present or the
// declared length exceeds the remaining byte count. Trailing bytes beyond
// the declared length are ignored.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d header bytes, need %d", ErrMalformedFrame, len(data), HeaderSize)
	}

	length := int(binary.BigEndian.Uint16(data[6:8]))
	if length > len(data)-HeaderSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d available bytes",
			ErrMalformedFrame, length, len(data)-HeaderSize)
	}

	f := &Frame{
		Type:     FrameType(data[0]),
		Flags:    data[1],
		Sequence: binary.BigEndian.Uint16(data[2:4]),
		Total:    binary.BigEndian.Uint16(data[4:6]),
		Payload:  make([]byte, length),
	}
	copy(f.Payload, data[HeaderSize:HeaderSize+length])

	return f, nil
}

// EncodeFrames splits an enveloped body into frames of at most maxChunkSize
// payload bytes each. An empty body still produces one zero-length frame.
// The terminal frame carries flagsBase with the last-fragment bit set; all
// earlier frames carry flagsBase with it clear. Frames must be emitted to
// the transport in the returned order.
func EncodeFrames(frameType FrameType, flagsBase byte, body []byte, maxChunkSize int) ([]Frame, error) {
	if maxChunkSize < 1 || maxChunkSize > maxPayloadSize {
		maxChunkSize = DefaultMaxChunkSize
	}

	total := (len(body) + maxChunkSize - 1) / maxChunkSize
	if total < 1 {
		total = 1
	}
	if total > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes needs %d fragments of %d",
			ErrMessageTooLarge, len(body), total, maxChunkSize)
	}

	frames := make([]Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(body) {
			end = len(body)
		}

		flags := flagsBase &^ FlagLastFragment
		if i == total-1 {
			flags = flagsBase | FlagLastFragment
		}

		frames = append(frames, Frame{
			Type:     frameType,
			Flags:    flags,
			Sequence: uint16(i),
			Total:    uint16(total),
			Payload:  body[start:end],
		})
	}

	return frames, nil
}
