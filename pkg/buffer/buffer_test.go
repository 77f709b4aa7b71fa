package buffer

import (
	"testing"

	"github.com/stakecert/aggregator/pkg/entities"
)

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	var evicted int
	s := New(2, nil, func(entities.SignedEntityDiscriminant) { evicted++ })

	d := entities.DiscriminantCardanoTransactions
	s.Buffer(d, entities.SingleSignature{SignerID: "a"})
	s.Buffer(d, entities.SingleSignature{SignerID: "b"})
	s.Buffer(d, entities.SingleSignature{SignerID: "c"})

	if s.Len(d) != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len(d))
	}
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}

	queue, err := s.Take(d)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if len(queue) != 2 || queue[0].SignerID != "b" || queue[1].SignerID != "c" {
		t.Fatalf("Take() = %+v, want [b, c]", queue)
	}
	if s.Len(d) != 0 {
		t.Fatalf("Len() after Take() = %d, want 0", s.Len(d))
	}
}
