package server

import "github.com/stakecert/aggregator/pkg/epoch"

// CurrentEpochProvider supplies the aggregator's present working
// epoch to handlers that need it. Backed by the runtime state machine
// in production.
type CurrentEpochProvider interface {
	CurrentEpoch() epoch.Epoch
}
