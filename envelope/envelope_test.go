package envelope

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return buf
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		keySize  int
		bodySize int
	}{
		{"No key small body", 0, 32},
		{"No key large body", 0, 4096},
		{"AES-128", 16, 512},
		{"AES-192", 24, 512},
		{"AES-256", 32, 512},
		{"AES-256 small body", 32, 10},
		{"AES-256 empty body", 32, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			codec := NewCodec(DefaultCompressionThreshold)
			if tc.keySize > 0 {
				if err := codec.SetKey(randomBytes(t, tc.keySize)); err != nil {
					t.Fatalf("SetKey failed: %v", err)
				}
			}

			body := randomBytes(t, tc.bodySize)
			wrapped, flags, err := codec.Wrap(body, 1)
			if err != nil {
				t.Fatalf("Wrap failed: %v", err)
			}

			if tc.keySize > 0 && flags&FlagEncrypted == 0 {
				t.Error("Expected encrypted flag with key installed")
			}
			if tc.keySize == 0 && flags&FlagEncrypted != 0 {
				t.Error("Encrypted flag set without key")
			}

			out, err := codec.Unwrap(wrapped, 1, flags)
			if err != nil {
				t.Fatalf("Unwrap failed: %v", err)
			}
			if !bytes.Equal(out, body) {
				t.Errorf("Round trip mismatch: %d bytes in, %d out", len(body), len(out))
			}
		})
	}
}

func TestCompressionThreshold(t *testing.T) {
	codec := NewCodec(256)

	// Repetitive content compresses; random content is wrapped regardless.
	big := bytes.Repeat([]byte("clipboard "), 100)
	wrapped, flags, err := codec.Wrap(big, 1)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if flags&FlagCompressed == 0 {
		t.Error("Expected compressed flag at threshold")
	}
	if len(wrapped) >= len(big) {
		t.Errorf("Repetitive %d-byte body did not shrink: %d bytes wrapped", len(big), len(wrapped))
	}

	small := randomBytes(t, 255)
	_, flags, err = codec.Wrap(small, 1)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if flags&FlagCompressed != 0 {
		t.Error("Compressed flag set below threshold")
	}
}

func TestCompressedEncryptedRoundTrip(t *testing.T) {
	codec := NewCodec(256)
	if err := codec.SetKey(randomBytes(t, 32)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	body := bytes.Repeat([]byte("copy paste "), 64)
	wrapped, flags, err := codec.Wrap(body, 2)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if flags != FlagCompressed|FlagEncrypted {
		t.Errorf("Expected flags 0x06, got 0x%02x", flags)
	}

	out, err := codec.Unwrap(wrapped, 2, flags)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Error("Round trip mismatch")
	}
}

func TestUnwrapTamperedTag(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)
	if err := codec.SetKey(randomBytes(t, 32)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	wrapped, flags, err := codec.Wrap([]byte("secret"), 1)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	tampered := make([]byte, len(wrapped))
	copy(tampered, wrapped)
	tampered[len(tampered)-1] ^= 0x01

	out, err := codec.Unwrap(tampered, 1, flags)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for tampered tag, got %v", err)
	}
	if out != nil {
		t.Error("Tampered unwrap must not return partial plaintext")
	}
}

func TestUnwrapWrongKey(t *testing.T) {
	sender := NewCodec(DefaultCompressionThreshold)
	if err := sender.SetKey(randomBytes(t, 32)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	receiver := NewCodec(DefaultCompressionThreshold)
	if err := receiver.SetKey(randomBytes(t, 32)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	wrapped, flags, err := sender.Wrap([]byte("secret"), 1)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if _, err := receiver.Unwrap(wrapped, 1, flags); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestUnwrapMismatchedAssociatedData(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)
	if err := codec.SetKey(randomBytes(t, 16)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	wrapped, flags, err := codec.Wrap([]byte("secret"), 1)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	// A flipped type or flags byte must invalidate the tag.
	if _, err := codec.Unwrap(wrapped, 3, flags); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for altered type, got %v", err)
	}
	if _, err := codec.Unwrap(wrapped, 1, flags|FlagCompressed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for altered flags, got %v", err)
	}
}

func TestUnwrapShortCiphertext(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)
	if err := codec.SetKey(randomBytes(t, 32)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	short := make([]byte, NonceSize+TagSize-1)
	if _, err := codec.Unwrap(short, 1, FlagEncrypted); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for short ciphertext, got %v", err)
	}
}

func TestUnwrapEncryptedWithoutKey(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)
	data := make([]byte, NonceSize+TagSize+8)
	if _, err := codec.Unwrap(data, 1, FlagEncrypted); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt without key, got %v", err)
	}
}

func TestUnwrapCorruptDeflateStream(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)

	// Valid length prefix, garbage deflate stream.
	data := []byte{0x00, 0x00, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xFF}
	if _, err := codec.Unwrap(data, 1, FlagCompressed); !errors.Is(err, ErrDecompress) {
		t.Errorf("Expected ErrDecompress, got %v", err)
	}

	// Shorter than the length prefix itself.
	if _, err := codec.Unwrap([]byte{0x00}, 1, FlagCompressed); !errors.Is(err, ErrDecompress) {
		t.Errorf("Expected ErrDecompress for truncated prefix, got %v", err)
	}
}

func TestSetKeyInvalidSizes(t *testing.T) {
	codec := NewCodec(DefaultCompressionThreshold)

	for _, size := range []int{1, 8, 15, 17, 31, 33, 64} {
		if err := codec.SetKey(make([]byte, size)); !errors.Is(err, ErrKeySize) {
			t.Errorf("Key size %d: expected ErrKeySize, got %v", size, err)
		}
	}
	if codec.HasKey() {
		t.Error("Invalid key must not be installed")
	}
}
