// Package scanner declares the interface the runtime state machine
// uses to observe chain state. It is an external collaborator per
// spec.md §1/§6: the block/transaction scanner that reads on-chain
// data is out of scope here and supplied by the deployment.
package scanner

import (
	"context"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// ChainTip is the observed state of the chain the aggregator is
// following.
type ChainTip struct {
	Epoch               epoch.Epoch
	ImmutableFileNumber uint64
	BlockNumber         uint64
}

// BlockScanner is implemented externally to this module and supplies
// the runtime with chain observations it has no other way to obtain.
type BlockScanner interface {
	// ChainTip returns the current observed chain tip.
	ChainTip(ctx context.Context) (ChainTip, error)
	// ScanStakeDistribution returns the stake distribution in effect
	// for e, as observed on-chain.
	ScanStakeDistribution(ctx context.Context, e epoch.Epoch) (entities.StakeDistribution, error)
	// ScanImmutableFiles returns the digest of the immutable file set
	// at beacon, used to build a CardanoImmutableFilesFull protocol
	// message.
	ScanImmutableFiles(ctx context.Context, beacon entities.Beacon) (string, error)
}
