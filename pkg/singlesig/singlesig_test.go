package singlesig

import (
	"testing"

	"github.com/lib/pq"
)

func TestInt64ArrayRoundTrips(t *testing.T) {
	indices := pq.Int64Array{0, 1, 3}
	value, err := indices.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if value == nil {
		t.Fatalf("Value() returned nil for non-empty array")
	}
}
