package registerer

import (
	"context"
	"fmt"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// stakeScanner is the slice of pkg/scanner.BlockScanner this oracle
// needs. Declared locally so this package doesn't import pkg/scanner
// just for one method.
type stakeScanner interface {
	ScanStakeDistribution(ctx context.Context, e epoch.Epoch) (entities.StakeDistribution, error)
}

// ScannerStakeOracle answers StakeOf by scanning the full stake
// distribution for the requested epoch and looking up one signer's
// share in it. Distributions are small enough per epoch that there is
// no need for a narrower single-signer query on the scanner interface.
type ScannerStakeOracle struct {
	scanner stakeScanner
}

// NewScannerStakeOracle wraps a block scanner as a StakeOracle.
func NewScannerStakeOracle(scanner stakeScanner) *ScannerStakeOracle {
	return &ScannerStakeOracle{scanner: scanner}
}

// StakeOf implements StakeOracle.
func (o *ScannerStakeOracle) StakeOf(ctx context.Context, e epoch.Epoch, signerID entities.SignerIdentity) (uint64, error) {
	dist, err := o.scanner.ScanStakeDistribution(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("scan stake distribution for epoch %d: %w", e, err)
	}
	return dist[signerID], nil
}
