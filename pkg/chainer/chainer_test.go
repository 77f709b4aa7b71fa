package chainer

import (
	"testing"

	"github.com/stakecert/aggregator/pkg/entities"
)

func TestParseBeaconRoundTripsSignedEntityKey(t *testing.T) {
	set := entities.SignedEntityType{
		Discriminant: entities.DiscriminantCardanoTransactions,
		Beacon:       entities.Beacon{Epoch: 7, ImmutableFileNumber: 12, BlockNumber: 9001},
	}

	got := parseBeacon(set.Key())
	if got != set.Beacon {
		t.Fatalf("parseBeacon(%q) = %+v, want %+v", set.Key(), got, set.Beacon)
	}
}

func TestParseBeaconMalformedKeyYieldsZeroBeacon(t *testing.T) {
	cases := []string{"", "CardanoTransactions", "CardanoTransactions/7/12", "not/a/valid/key"}
	for _, key := range cases {
		if got := parseBeacon(key); got != (entities.Beacon{}) {
			t.Fatalf("parseBeacon(%q) = %+v, want zero Beacon", key, got)
		}
	}
}
