// Package auth holds the sync credential store: the bearer token for the
// remote API and the stable device identifier sent with every session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"bookplayer/internal/config"
)

const (
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout bounds the wait for the bolt file lock so a second
	// process fails fast instead of hanging.
	storeOpenTimeout = 5 * time.Second
)

var (
	authBucket  = []byte("auth")
	tokenKey    = []byte("token")
	deviceIDKey = []byte("device_id")
)

// ErrNoToken indicates no credential has been stored yet.
var ErrNoToken = errors.New("no auth token stored")

// Store wraps a bbolt database holding sync credentials.
type Store struct {
	db *bolt.DB
}

// Open opens the credential database under the state directory, creating it
// if it does not exist.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenAt(filepath.Join(cfg.Paths.StateDir, "auth.db"))
}

// OpenAt opens a credential database at the given path. Useful for tests that
// need an isolated database.
func OpenAt(path string) (*Store, error) {
	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open auth db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize auth db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Token returns the stored bearer token. Satisfies remote.TokenSource.
func (s *Store) Token(_ context.Context) (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(authBucket).Get(tokenKey); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SetToken persists the bearer token.
func (s *Store) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Put(tokenKey, []byte(token))
	})
}

// ClearToken removes the stored credential, logging the device out.
func (s *Store) ClearToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete(tokenKey)
	})
}

// DeviceID returns this installation's stable identifier, minting one on
// first use.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(authBucket)
		if v := bucket.Get(deviceIDKey); v != nil {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return bucket.Put(deviceIDKey, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return id, nil
}
