package registerer

import (
	"context"
	"errors"
	"testing"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

type fakeStakeScanner struct {
	dist entities.StakeDistribution
	err  error
}

func (f *fakeStakeScanner) ScanStakeDistribution(context.Context, epoch.Epoch) (entities.StakeDistribution, error) {
	return f.dist, f.err
}

func TestScannerStakeOracleReturnsSignerShare(t *testing.T) {
	scanner := &fakeStakeScanner{dist: entities.StakeDistribution{"signer-a": 250, "signer-b": 10}}
	oracle := NewScannerStakeOracle(scanner)

	stake, err := oracle.StakeOf(context.Background(), epoch.Epoch(5), "signer-a")
	if err != nil {
		t.Fatalf("StakeOf() error = %v", err)
	}
	if stake != 250 {
		t.Fatalf("StakeOf() = %d, want 250", stake)
	}
}

func TestScannerStakeOracleUnknownSignerHasZeroStake(t *testing.T) {
	scanner := &fakeStakeScanner{dist: entities.StakeDistribution{"signer-a": 250}}
	oracle := NewScannerStakeOracle(scanner)

	stake, err := oracle.StakeOf(context.Background(), epoch.Epoch(5), "signer-z")
	if err != nil {
		t.Fatalf("StakeOf() error = %v", err)
	}
	if stake != 0 {
		t.Fatalf("StakeOf() = %d, want 0 for an unregistered signer", stake)
	}
}

func TestScannerStakeOracleWrapsScannerError(t *testing.T) {
	wantErr := errors.New("scanner unavailable")
	scanner := &fakeStakeScanner{err: wantErr}
	oracle := NewScannerStakeOracle(scanner)

	if _, err := oracle.StakeOf(context.Background(), epoch.Epoch(5), "signer-a"); !errors.Is(err, wantErr) {
		t.Fatalf("StakeOf() error = %v, want wrapped %v", err, wantErr)
	}
}
