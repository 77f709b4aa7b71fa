package runtime

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stakecert/aggregator/pkg/certifier"
	"github.com/stakecert/aggregator/pkg/config"
	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/protoparams"
	"github.com/stakecert/aggregator/pkg/scanner"
	"github.com/stakecert/aggregator/pkg/stakestore"
)

type fakeScanner struct {
	tip scanner.ChainTip
}

func (f *fakeScanner) ChainTip(context.Context) (scanner.ChainTip, error) { return f.tip, nil }
func (f *fakeScanner) ScanStakeDistribution(context.Context, epoch.Epoch) (entities.StakeDistribution, error) {
	return entities.StakeDistribution{}, nil
}
func (f *fakeScanner) ScanImmutableFiles(context.Context, entities.Beacon) (string, error) {
	return "", nil
}

type fakeCertifier struct {
	createOpenMessageErr error
	certificateCreated   bool
}

func (f *fakeCertifier) InformEpoch(context.Context, epoch.Epoch) error { return nil }
func (f *fakeCertifier) CreateOpenMessage(context.Context, entities.SignedEntityType, entities.ProtocolMessage) (entities.OpenMessage, error) {
	if f.createOpenMessageErr != nil {
		return entities.OpenMessage{}, f.createOpenMessageErr
	}
	return entities.OpenMessage{}, nil
}
func (f *fakeCertifier) RegisterSingleSignature(context.Context, entities.SignedEntityType, entities.SingleSignature) (certifier.Outcome, error) {
	return certifier.Accepted, nil
}
func (f *fakeCertifier) MarkOpenMessageIfExpired(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}
func (f *fakeCertifier) CreateCertificate(context.Context, entities.SignedEntityType) (entities.Certificate, bool, error) {
	return entities.Certificate{}, f.certificateCreated, nil
}
func (f *fakeCertifier) VerifyCertificateChain(context.Context, string) (int, error) { return 0, nil }

type fakePlanner struct {
	set     entities.SignedEntityType
	message entities.ProtocolMessage
	ready   bool
}

func (f *fakePlanner) NextEntity(scanner.ChainTip, map[entities.SignedEntityDiscriminant]scanner.ChainTip) (entities.SignedEntityType, entities.ProtocolMessage, bool) {
	return f.set, f.message, f.ready
}

func TestCycleIdleTransitionsToReady(t *testing.T) {
	r := New(&fakeCertifier{}, &fakeScanner{tip: scanner.ChainTip{Epoch: 5}}, &fakePlanner{}, nil, nil, nil, nil, time.Second, time.Second, time.Hour)
	if err := r.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if r.State().Phase != Ready {
		t.Fatalf("State().Phase = %v, want Ready", r.State().Phase)
	}
}

func TestCycleReadyOpensEntityWhenPlannerReady(t *testing.T) {
	set := entities.SignedEntityType{Discriminant: entities.DiscriminantCardanoTransactions, Beacon: entities.Beacon{Epoch: 5}}
	msg := entities.ProtocolMessage{entities.PartNetwork: "mainnet"}

	r := New(&fakeCertifier{}, &fakeScanner{tip: scanner.ChainTip{Epoch: 5}},
		&fakePlanner{set: set, message: msg, ready: true}, nil, nil, nil, nil, time.Second, time.Second, time.Hour)
	r.state = State{Phase: Ready}
	r.currentEpoch = 5

	if err := r.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if r.State().Phase != Signing {
		t.Fatalf("State().Phase = %v, want Signing", r.State().Phase)
	}
	if r.State().Entity.Key() != set.Key() {
		t.Fatalf("State().Entity = %v, want %v", r.State().Entity, set)
	}
}

func TestCycleReadyCriticalOnEpochOffsetViolation(t *testing.T) {
	r := New(&fakeCertifier{}, &fakeScanner{tip: scanner.ChainTip{Epoch: 20}}, &fakePlanner{}, nil, nil, nil, nil, time.Second, time.Second, time.Hour)
	r.state = State{Phase: Ready}
	r.currentEpoch = 5

	err := r.Cycle(context.Background())
	var re *Error
	if !errors.As(err, &re) || re.Kind != Critical {
		t.Fatalf("Cycle() error = %v, want Critical", err)
	}
}

func TestCycleSigningTransitionsToReadyOnCertificateCreated(t *testing.T) {
	set := entities.SignedEntityType{Discriminant: entities.DiscriminantCardanoTransactions}
	r := New(&fakeCertifier{certificateCreated: true}, &fakeScanner{}, &fakePlanner{}, nil, nil, nil, nil, time.Second, time.Second, time.Hour)
	r.state = State{Phase: Signing, Entity: set}

	if err := r.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if r.State().Phase != Ready {
		t.Fatalf("State().Phase = %v, want Ready", r.State().Phase)
	}
	if _, ok := r.lastCertified[set.Discriminant]; !ok {
		t.Fatalf("expected lastCertified to record %v", set.Discriminant)
	}
}

// TestCycleReadyReInitsOnOneEpochAdvance exercises observeNewEpoch
// against a live database: a clean one-epoch advance rotates the
// stake snapshot and then reports ReInit (spec.md §7), discarding
// chain-derived state rather than silently carrying it into the new
// epoch.
func TestCycleReadyReInitsOnOneEpochAdvance(t *testing.T) {
	connStr := os.Getenv("STAKECERT_TEST_DB")
	if connStr == "" {
		t.Skip("STAKECERT_TEST_DB not set, skipping database-backed runtime test")
	}

	client, err := database.NewClient(&config.Config{DatabaseURL: connStr})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()
	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	stake := stakestore.New(client)
	params := protoparams.New(client)

	r := New(&fakeCertifier{}, &fakeScanner{tip: scanner.ChainTip{Epoch: 6}}, &fakePlanner{},
		nil, stake, params, nil, time.Second, time.Second, time.Hour)
	r.state = State{Phase: Ready}
	r.currentEpoch = 5
	r.lastCertified[entities.DiscriminantCardanoTransactions] = scanner.ChainTip{Epoch: 5}

	err = r.Cycle(context.Background())
	var re *Error
	if !errors.As(err, &re) || re.Kind != ReInit {
		t.Fatalf("Cycle() error = %v, want ReInit", err)
	}
	if r.currentEpoch != 6 {
		t.Fatalf("currentEpoch = %d, want 6", r.currentEpoch)
	}
}
