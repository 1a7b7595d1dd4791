// Package identity manages the persistent 64-bit device identifier.
//
// The identifier is generated once from a cryptographically random source
// and embedded inside every outgoing message body; it never appears in a
// frame header. Two peers are expected to have different identifiers only
// statistically, collisions are not detected.
package identity

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Size is the serialized identity length in bytes.
const Size = 8

// DeviceID is a device's persistent identifier.
type DeviceID uint64

// Generate creates a new random, non-zero DeviceID.
func Generate() (DeviceID, error) {
	for {
		var buf [Size]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("identity: read random source: %w", err)
		}
		id := DeviceID(binary.BigEndian.Uint64(buf[:]))
		if id != 0 {
			return id, nil
		}
	}
}

// Load reads the device identity from path, generating and persisting a new
// one if the file is missing or does not hold exactly 8 bytes.
func Load(path string) (DeviceID, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) == Size:
		id := DeviceID(binary.BigEndian.Uint64(data))
		logrus.WithFields(logrus.Fields{
			"function":  "Load",
			"path":      path,
			"device_id": id.String(),
		}).Debug("Loaded device identity")
		return id, nil

	case err == nil:
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
			"size":     len(data),
		}).Warn("Identity file has wrong size, regenerating")

	case !os.IsNotExist(err):
		return 0, fmt.Errorf("identity: read %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, id.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("identity: persist %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"path":      path,
		"device_id": id.String(),
	}).Info("Generated new device identity")

	return id, nil
}

// Bytes returns the 8-byte big-endian encoding used on the wire.
func (id DeviceID) Bytes() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// String formats the identity as fixed-width hex for logs and aliases.
func (id DeviceID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}
