package stakestore

import (
	"testing"

	"github.com/stakecert/aggregator/pkg/entities"
)

func TestStakeDistributionTotalStake(t *testing.T) {
	dist := entities.StakeDistribution{
		"signer-a": 100,
		"signer-b": 250,
	}
	if got := dist.TotalStake(); got != 350 {
		t.Fatalf("TotalStake() = %d, want 350", got)
	}
}
