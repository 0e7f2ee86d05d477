// Package counter implements a persistent, strictly-monotonic replay counter
// abstraction backed by go.etcd.io/bbolt as an embedded persistent store,
// standing in for a secure-storage counter key committed on every reboot.
package counter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/robolivable/pawrswarm/log"
)

var bucketName = []byte("replay_counters")

// Store persists one or more named monotonic counters, one per key id: the
// advertiser has one, and each scanner has its own.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("counter: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("counter: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load reads the persisted counter for uid, or — if no record exists —
// seeds it with a cryptographically random
// 64-bit value and commit it immediately, so a freshly flashed device never
// reuses a counter value a previous incarnation of the same key might have
// already advertised.
func (s *Store) Load(uid string) (uint64, error) {
	var value uint64
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(uid))
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return fmt.Errorf("counter: corrupt record for %q (%d bytes)", uid, len(raw))
		}
		value = binary.LittleEndian.Uint64(raw)
		found = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if found {
		return value, nil
	}

	seed, err := randomUint64()
	if err != nil {
		return 0, fmt.Errorf("counter: seed random value for %q: %w", uid, err)
	}
	if err := s.Commit(uid, seed); err != nil {
		return 0, err
	}
	log.Info("counter: seeded new replay counter for %q", uid)
	return seed, nil
}

// Commit atomically replaces the persistent record for uid. Called on
// graceful reboot (button press) and fault handling. The counter is allowed
// to skip values across crashes — only monotonicity is guaranteed, not
// density.
func (s *Store) Commit(uid string, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(uid), buf)
	})
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
