// Package trust implements the per-device allow-list gating clipboard
// delivery.
//
// A received message that decodes successfully is still discarded unless
// its sender identity is trusted. Trust decisions come either from prior
// persisted records, from a one-shot allow-next-unknown grant, or from an
// external consent collaborator (typically a UI prompt) invoked through a
// callback.
//
// Example:
//
//	store := trust.NewStore("trusted.json", promptUser)
//	if err := store.Load(); err != nil {
//	    log.Fatal(err)
//	}
//	if store.EnsureTrusted(senderID) {
//	    // deliver to clipboard
//	}
package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ConsentFunc asks the user whether deviceID may update the local
// clipboard. It may block its calling goroutine while a prompt is shown.
type ConsentFunc func(deviceID uint64) bool

// Record is one persisted trust entry.
type Record struct {
	DeviceID uint64 `json:"device_id"`
	Alias    string `json:"alias,omitempty"`
}

// Store holds the set of peer devices permitted to update the local
// clipboard, with optional display aliases. Entries are mutated only
// through Store's methods and are never implicitly pruned. Safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	records   map[uint64]string
	allowNext bool
	consent   ConsentFunc
	path      string
}

// NewStore creates an empty Store persisting to path. An empty path
// disables persistence; a nil consent func denies all unknown devices
// unless an allow-next grant is pending.
func NewStore(path string, consent ConsentFunc) *Store {
	return &Store{
		records: make(map[uint64]string),
		consent: consent,
		path:    path,
	}
}

// IsTrusted reports whether id holds a trust record.
func (s *Store) IsTrusted(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// EnsureTrusted returns true immediately if id is already trusted or a
// pending allow-next-unknown grant exists, consuming the grant and
// persisting an allow decision. Otherwise the consent collaborator decides;
// an allow is persisted, a deny is not recorded.
func (s *Store) EnsureTrusted(id uint64) bool {
	s.mu.Lock()
	if _, ok := s.records[id]; ok {
		s.mu.Unlock()
		return true
	}
	if s.allowNext {
		s.allowNext = false
		s.records[id] = ""
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":  "EnsureTrusted",
			"device_id": fmt.Sprintf("%016x", id),
		}).Info("Trusted device via pending grant")

		s.persist()
		return true
	}
	consent := s.consent
	s.mu.Unlock()

	if consent == nil || !consent(id) {
		logrus.WithFields(logrus.Fields{
			"function":  "EnsureTrusted",
			"device_id": fmt.Sprintf("%016x", id),
		}).Warn("Trust denied for device")
		return false
	}

	s.Add(id, "")
	return true
}

// AllowNextUnknown arms a one-shot grant: the next unknown device asking
// for trust is allowed without consulting the consent collaborator.
func (s *Store) AllowNextUnknown() {
	s.mu.Lock()
	s.allowNext = true
	s.mu.Unlock()
}

// Add creates or replaces the trust record for id.
func (s *Store) Add(id uint64, alias string) {
	s.mu.Lock()
	s.records[id] = alias
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Add",
		"device_id": fmt.Sprintf("%016x", id),
		"alias":     alias,
	}).Info("Trusted device added")

	s.persist()
}

// Remove deletes the trust record for id, reporting whether one existed.
func (s *Store) Remove(id uint64) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if ok {
		s.persist()
	}
	return ok
}

// Clear removes every trust record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[uint64]string)
	s.mu.Unlock()

	logrus.WithField("function", "Clear").Info("Trust store cleared")
	s.persist()
}

// SetAlias updates the display alias of an existing record, reporting
// whether the record exists.
func (s *Store) SetAlias(id uint64, alias string) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		s.records[id] = alias
	}
	s.mu.Unlock()

	if ok {
		s.persist()
	}
	return ok
}

// GetAlias returns the alias of id and whether id is trusted. A trusted
// device without an alias yields ("", true).
func (s *Store) GetAlias(id uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alias, ok := s.records[id]
	return alias, ok
}

// Records returns a snapshot of all trust records ordered by device id.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

func (s *Store) recordsLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for id, alias := range s.records {
		out = append(out, Record{DeviceID: id, Alias: alias})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Save writes the store to its backing file as an ordered JSON array. It is
// a no-op when persistence is disabled.
func (s *Store) Save() error {
	s.mu.Lock()
	path := s.path
	records := s.recordsLocked()
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: encode store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("trust: write %s: %w", path, err)
	}
	return nil
}

// Load replaces the in-memory records with the contents of the backing
// file. A missing file leaves the store empty.
func (s *Store) Load() error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trust: read %s: %w", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("trust: decode %s: %w", path, err)
	}

	s.mu.Lock()
	s.records = make(map[uint64]string, len(records))
	for _, r := range records {
		s.records[r.DeviceID] = r.Alias
	}
	count := len(s.records)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
		"records":  count,
	}).Debug("Trust store loaded")

	return nil
}

// persist saves after a mutation; failures are logged, the in-memory
// mutation stands.
func (s *Store) persist() {
	if err := s.Save(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persist",
			"error":    err,
		}).Warn("Failed to persist trust store")
	}
}
