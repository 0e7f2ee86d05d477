// Package keystore stands in for a device's persistent secure key storage,
// an external collaborator reached only through this interface in a real
// deployment (typically backed by a secure element or a PSA crypto API).
// Here it is a bbolt-backed reference implementation, the same storage
// engine as package counter, so the advertiser, scanner, and provisioning
// tool have something concrete to exercise in tests and in the reference
// binaries.
package keystore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"go.etcd.io/bbolt"
)

const KeyBits = 256

var bucketName = []byte("hmac_keys")

// Store persists 256-bit HMAC-SHA-256 key material keyed by an opaque id
// string (descriptive ids such as "advertiser" or "scanner-7" in place of
// packed integers).
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Import persists 256-bit HMAC-SHA-256 key material under id, overwriting
// any prior material for that id.
func (s *Store) Import(id string, key []byte) error {
	if len(key) != KeyBits/8 {
		return fmt.Errorf("keystore: key for %q must be %d bytes, got %d", id, KeyBits/8, len(key))
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(id), key)
	})
}

// Destroy removes the key material stored under id.
func (s *Store) Destroy(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(id))
	})
}

// Export returns the raw key bytes stored under id.
func (s *Store) Export(id string) ([]byte, error) {
	var key []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("keystore: no key material for %q", id)
		}
		key = append([]byte(nil), raw...)
		return nil
	})
	return key, err
}

// MACCompute fetches the key for id and computes HMAC-SHA-256 over msg.
func (s *Store) MACCompute(id string, msg []byte) ([]byte, error) {
	key, err := s.Export(id)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	if _, err := mac.Write(msg); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}

// RandomKey generates fresh 256-bit key material from a cryptographic
// random source.
func RandomKey() ([]byte, error) {
	buf := make([]byte, KeyBits/8)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// AdvertiserKeyID and ScannerKeyID name the conventional ids used across the
// advertiser, scanner, and provisioning binaries.
func AdvertiserKeyID() string { return "advertiser" }

func ScannerKeyID(deviceID uint16) string { return fmt.Sprintf("scanner-%d", deviceID) }
