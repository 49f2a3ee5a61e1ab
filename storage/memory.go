package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/flashbots/secagg/protocol"
)

// MemoryStore implements PackageStore in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[uint64]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[uint64]map[string][]byte),
	}
}

func (s *MemoryStore) List(ctx context.Context, round uint64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rounds[round]))
	for id := range s.rounds[round] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error) {
	s.mu.RLock()
	data, ok := s.rounds[round][id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeStored(round, id, data)
}

func (s *MemoryStore) Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error {
	data, err := encodeForWrite(id, pkg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	packages, ok := s.rounds[round]
	if !ok {
		packages = make(map[string][]byte)
		s.rounds[round] = packages
	}
	if existing, ok := packages[id]; ok {
		return checkExisting(existing, data)
	}
	packages[id] = data
	return nil
}
