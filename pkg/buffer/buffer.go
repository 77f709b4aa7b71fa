// Package buffer holds single signatures that arrive before their
// open message exists. It is grounded on the Rust
// InMemoryBufferedSingleSignatureStore — a map from signed-entity
// discriminant to an ordered list of signatures — but adds a durable
// backing (pkg/kvdb, backed by cometbft-db) and a bounded FIFO cap per
// discriminant, since an unbounded in-memory buffer driven by a
// signer that never gets an open message is a resource leak.
package buffer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/kvdb"
)

// Store buffers single signatures keyed by signed-entity discriminant.
// It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	capacity  int
	byEntity  map[entities.SignedEntityDiscriminant][]entities.SingleSignature
	durable   *kvdb.KVAdapter
	evictions func(discriminant entities.SignedEntityDiscriminant)
}

// New creates a buffered-signature store. durable may be nil, in
// which case the buffer is in-memory only (e.g. in tests). onEvict,
// if non-nil, is called once per evicted signature — the runtime
// wires this to the buffer_evicted_total metric.
func New(capacityPerEntity int, durable *kvdb.KVAdapter, onEvict func(entities.SignedEntityDiscriminant)) *Store {
	return &Store{
		capacity:  capacityPerEntity,
		byEntity:  make(map[entities.SignedEntityDiscriminant][]entities.SingleSignature),
		durable:   durable,
		evictions: onEvict,
	}
}

// Buffer appends a signature to the discriminant's queue. If the
// queue is already at capacity, the oldest entry is evicted to make
// room — spec.md's Open Question on eviction policy is resolved as a
// bounded FIFO (see DESIGN.md).
func (s *Store) Buffer(discriminant entities.SignedEntityDiscriminant, sig entities.SingleSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byEntity[discriminant]
	if len(queue) >= s.capacity {
		queue = queue[1:]
		if s.evictions != nil {
			s.evictions(discriminant)
		}
	}
	queue = append(queue, sig)
	s.byEntity[discriminant] = queue

	return s.persist(discriminant, queue)
}

// Take removes and returns every signature buffered for a
// discriminant, so the certifier can replay them against a freshly
// created open message.
func (s *Store) Take(discriminant entities.SignedEntityDiscriminant) ([]entities.SingleSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byEntity[discriminant]
	delete(s.byEntity, discriminant)

	if s.durable != nil {
		if err := s.durable.Delete(bufferKey(discriminant)); err != nil {
			return nil, fmt.Errorf("delete durable buffer entry: %w", err)
		}
	}

	return queue, nil
}

// Len returns the number of signatures currently buffered for a
// discriminant.
func (s *Store) Len(discriminant entities.SignedEntityDiscriminant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEntity[discriminant])
}

func (s *Store) persist(discriminant entities.SignedEntityDiscriminant, queue []entities.SingleSignature) error {
	if s.durable == nil {
		return nil
	}
	payload, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode buffered signatures: %w", err)
	}
	if err := s.durable.Set(bufferKey(discriminant), payload); err != nil {
		return fmt.Errorf("persist buffered signatures: %w", err)
	}
	return nil
}

// Restore loads every discriminant's buffer back from the durable
// store, for use on process restart.
func (s *Store) Restore() error {
	if s.durable == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.durable.IteratePrefix([]byte(bufferKeyPrefix), func(key, value []byte) bool {
		discriminant := entities.SignedEntityDiscriminant(key[len(bufferKeyPrefix):])
		var queue []entities.SingleSignature
		if err := json.Unmarshal(value, &queue); err == nil {
			s.byEntity[discriminant] = queue
		}
		return true
	})
}

const bufferKeyPrefix = "buffer/"

func bufferKey(discriminant entities.SignedEntityDiscriminant) []byte {
	return []byte(bufferKeyPrefix + string(discriminant))
}
