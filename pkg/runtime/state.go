package runtime

import "github.com/stakecert/aggregator/pkg/entities"

// Phase is the runtime state machine's current state, per spec.md §4.7.
type Phase int

const (
	// Idle means no chain tip has been fetched yet.
	Idle Phase = iota
	// Ready means the chain tip is known and no open message is active.
	Ready
	// Signing means an open message is active for Entity.
	Signing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Signing:
		return "signing"
	default:
		return "unknown"
	}
}

// State is the runtime's current position in the state machine.
type State struct {
	Phase  Phase
	Entity entities.SignedEntityType
}
