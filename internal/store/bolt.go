package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dshills/rundeck/internal/runconfig"
)

var (
	boltBucket = []byte("rundeck")
	boltKey    = []byte("app-config")
)

// BoltStore keeps the document in a bolt database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

// Path returns the database file location.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Get reads the document. An empty database yields an empty document.
func (s *BoltStore) Get() (runconfig.AppConfig, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get(boltKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return runconfig.AppConfig{}, err
	}
	if data == nil {
		return normalize(runconfig.AppConfig{}), nil
	}
	return decode(data)
}

// Set writes the document in a single transaction.
func (s *BoltStore) Set(cfg runconfig.AppConfig) error {
	data, err := encode(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, data)
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
