package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/flashbots/secagg/protocol"
	bbolt "go.etcd.io/bbolt"
)

var packagesBucket = []byte("packages")

// BoltStore implements PackageStore in an embedded bbolt database.
// Packages live in one sub-bucket per round, keyed by client id; bbolt
// iterates keys in byte order, so List is sorted without extra work.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(packagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}

func (s *BoltStore) List(ctx context.Context, round uint64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(packagesBucket).Bucket(roundKey(round))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *BoltStore) Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(packagesBucket).Bucket(roundKey(round))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeStored(round, id, data)
}

func (s *BoltStore) Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeForWrite(id, pkg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(packagesBucket).CreateBucketIfNotExists(roundKey(round))
		if err != nil {
			return err
		}
		if existing := b.Get([]byte(id)); existing != nil {
			return checkExisting(existing, data)
		}
		return b.Put([]byte(id), data)
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
