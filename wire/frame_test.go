package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameSerializeParse(t *testing.T) {
	f := &Frame{
		Type:     FrameText,
		Flags:    FlagLastFragment,
		Sequence: 3,
		Total:    7,
		Payload:  []byte("payload bytes"),
	}

	parsed, err := ParseFrame(f.Serialize())
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}

	if parsed.Type != f.Type {
		t.Errorf("Expected type %d, got %d", f.Type, parsed.Type)
	}
	if parsed.Flags != f.Flags {
		t.Errorf("Expected flags 0x%02x, got 0x%02x", f.Flags, parsed.Flags)
	}
	if parsed.Sequence != f.Sequence {
		t.Errorf("Expected sequence %d, got %d", f.Sequence, parsed.Sequence)
	}
	if parsed.Total != f.Total {
		t.Errorf("Expected total %d, got %d", f.Total, parsed.Total)
	}
	if !bytes.Equal(parsed.Payload, f.Payload) {
		t.Errorf("Expected payload %q, got %q", f.Payload, parsed.Payload)
	}
}

func TestFrameWireLayout(t *testing.T) {
	f := &Frame{
		Type:     FrameImage,
		Flags:    0x05,
		Sequence: 0x0102,
		Total:    0x0304,
		Payload:  []byte{0xAA, 0xBB},
	}

	raw := f.Serialize()
	expected := []byte{0x02, 0x05, 0x01, 0x02, 0x03, 0x04, 0x00, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(raw, expected) {
		t.Errorf("Expected wire bytes %x, got %x", expected, raw)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"Empty input", nil},
		{"Truncated header", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{"Length exceeds available", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x05, 0xAA}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFrame(tc.data)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestParseFrameIgnoresTrailingBytes(t *testing.T) {
	data := []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02, 0xAA, 0xBB, 0xCC, 0xDD}
	f, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if !bytes.Equal(f.Payload, []byte{0xAA, 0xBB}) {
		t.Errorf("Expected payload AABB, got %x", f.Payload)
	}
}

func TestEncodeFramesSingle(t *testing.T) {
	frames, err := EncodeFrames(FrameText, 0, []byte("hello"), 180)
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}

	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Flags != FlagLastFragment {
		t.Errorf("Expected flags 0x01, got 0x%02x", f.Flags)
	}
	if f.Sequence != 0 || f.Total != 1 {
		t.Errorf("Expected sequence 0 total 1, got %d/%d", f.Sequence, f.Total)
	}
}

func TestEncodeFramesEmptyBody(t *testing.T) {
	frames, err := EncodeFrames(FrameText, 0, nil, 180)
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}

	if len(frames) != 1 {
		t.Fatalf("Expected 1 zero-length frame, got %d frames", len(frames))
	}
	if len(frames[0].Payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(frames[0].Payload))
	}
	if !frames[0].Last() {
		t.Error("Expected last-fragment flag on single frame")
	}
}

func TestEncodeFramesFlagAssignment(t *testing.T) {
	body := make([]byte, 450)
	flagsBase := byte(0x06)

	frames, err := EncodeFrames(FrameFile, flagsBase, body, 180)
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}

	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames for 450 bytes at 180, got %d", len(frames))
	}
	for i, f := range frames {
		last := i == len(frames)-1
		if f.Last() != last {
			t.Errorf("Frame %d: last-fragment flag = %v, want %v", i, f.Last(), last)
		}
		if f.Flags&^FlagLastFragment != flagsBase {
			t.Errorf("Frame %d: base flags 0x%02x, want 0x%02x", i, f.Flags&^FlagLastFragment, flagsBase)
		}
		if f.Sequence != uint16(i) {
			t.Errorf("Frame %d: sequence %d", i, f.Sequence)
		}
		if f.Total != 3 {
			t.Errorf("Frame %d: total %d, want 3", i, f.Total)
		}
	}
	if len(frames[2].Payload) != 90 {
		t.Errorf("Expected 90 bytes in final frame, got %d", len(frames[2].Payload))
	}
}

func TestFragmentationRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		bodySize  int
		chunkSize int
	}{
		{"Empty body", 0, 1},
		{"Single byte chunks", 17, 1},
		{"Exact multiple", 360, 180},
		{"One over multiple", 361, 180},
		{"One under multiple", 359, 180},
		{"Tiny chunk", 1000, 7},
		{"Body smaller than chunk", 10, 180},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := make([]byte, tc.bodySize)
			for i := range body {
				body[i] = byte(i * 31)
			}

			frames, err := EncodeFrames(FrameImage, 0, body, tc.chunkSize)
			if err != nil {
				t.Fatalf("EncodeFrames failed: %v", err)
			}

			r := NewReassembler()
			var msg *Message
			var done bool
			for i := range frames {
				parsed, err := ParseFrame(frames[i].Serialize())
				if err != nil {
					t.Fatalf("ParseFrame failed on frame %d: %v", i, err)
				}
				msg, done = r.Append(parsed)
				if done && i != len(frames)-1 {
					t.Fatalf("Reassembly completed early at frame %d", i)
				}
			}

			if !done {
				t.Fatal("Reassembly did not complete")
			}
			if !bytes.Equal(msg.Body, body) {
				t.Errorf("Round trip mismatch: %d bytes in, %d bytes out", len(body), len(msg.Body))
			}
		})
	}
}

func TestEncodeFramesTooLarge(t *testing.T) {
	body := make([]byte, 0x10000)
	_, err := EncodeFrames(FrameFile, 0, body, 1)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
}
