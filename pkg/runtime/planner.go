package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/keystore"
	"github.com/stakecert/aggregator/pkg/multisig"
	"github.com/stakecert/aggregator/pkg/protoparams"
	"github.com/stakecert/aggregator/pkg/scanner"
	"github.com/stakecert/aggregator/pkg/stakestore"
)

// DefaultPlanner decides which signed-entity type to certify next,
// grounded on spec.md §4's worked example S1: a MithrilStakeDistribution
// once per epoch, a CardanoImmutableFilesFull snapshot and a
// CardanoDatabase artifact whenever the immutable file number
// advances, a CardanoTransactions window whenever the block number
// advances, and a CardanoStakeDistribution alongside the Mithril one.
//
// NextEntity must stay synchronous and store-free per the
// EntityPlanner interface, so the pieces of the protocol message that
// require a database round trip — the next epoch's aggregate
// verification key and protocol parameters — are kept in a cache
// refreshed by Refresh, which Runtime calls (with a context) on every
// epoch transition it observes.
type DefaultPlanner struct {
	network string

	mu         sync.RWMutex
	nextAVK    []byte
	nextParams entities.ProtocolParameters

	keys   *keystore.Store
	stake  *stakestore.Store
	params *protoparams.Store
}

// NewDefaultPlanner creates a planner that tags every protocol message
// with network and refreshes its next-epoch cache from keys/stake/params.
func NewDefaultPlanner(network string, keys *keystore.Store, stake *stakestore.Store, params *protoparams.Store) *DefaultPlanner {
	return &DefaultPlanner{network: network, keys: keys, stake: stake, params: params}
}

// Refresh recomputes the cached next-epoch aggregate verification key
// and protocol parameters from the registration epoch's registered
// keys and stake. Runtime.observeNewEpoch calls this through the
// optional-capability pattern (a type assertion against this method),
// the same way pkg/kvdb checks for Compact support.
func (p *DefaultPlanner) Refresh(ctx context.Context, current epoch.Epoch) error {
	registration := current.Registration()

	keys, err := p.keys.All(ctx, registration)
	if err != nil {
		return fmt.Errorf("load registration-epoch keys: %w", err)
	}
	stake, err := p.stake.Get(ctx, registration)
	if err != nil {
		return fmt.Errorf("load registration-epoch stake: %w", err)
	}
	params, err := p.params.Get(ctx, registration)
	if err != nil {
		return fmt.Errorf("load registration-epoch protocol parameters: %w", err)
	}

	epochCtx := multisig.EpochContext{Params: params, Stake: stake, Keys: keys}
	avk, err := epochCtx.ComputeAggregateVerificationKey()
	if err != nil {
		// No signers registered yet for the coming epoch. Leave the
		// cache at its previous value rather than failing the cycle
		// over it; the next Refresh will pick it up once signers
		// exist.
		return nil
	}

	p.mu.Lock()
	p.nextAVK = avk
	p.nextParams = params
	p.mu.Unlock()
	return nil
}

// NextEntity implements EntityPlanner.
func (p *DefaultPlanner) NextEntity(tip scanner.ChainTip, lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip) (entities.SignedEntityType, entities.ProtocolMessage, bool) {
	if set, msg, ok := p.dueForEpoch(tip, lastCertified, entities.DiscriminantMithrilStakeDistribution); ok {
		return set, msg, true
	}
	if set, msg, ok := p.dueForEpoch(tip, lastCertified, entities.DiscriminantCardanoStakeDistribution); ok {
		return set, msg, true
	}
	if set, msg, ok := p.dueForImmutable(tip, lastCertified, entities.DiscriminantCardanoImmutableFilesFull); ok {
		return set, msg, true
	}
	if set, msg, ok := p.dueForImmutable(tip, lastCertified, entities.DiscriminantCardanoDatabase); ok {
		return set, msg, true
	}
	if set, msg, ok := p.dueForBlock(tip, lastCertified); ok {
		return set, msg, true
	}
	return entities.SignedEntityType{}, nil, false
}

func (p *DefaultPlanner) dueForEpoch(tip scanner.ChainTip, lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip, discriminant entities.SignedEntityDiscriminant) (entities.SignedEntityType, entities.ProtocolMessage, bool) {
	if last, ok := lastCertified[discriminant]; ok && last.Epoch == tip.Epoch {
		return entities.SignedEntityType{}, nil, false
	}
	set := entities.SignedEntityType{Discriminant: discriminant, Beacon: entities.Beacon{Epoch: tip.Epoch}}
	return set, p.baseMessage(), true
}

func (p *DefaultPlanner) dueForImmutable(tip scanner.ChainTip, lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip, discriminant entities.SignedEntityDiscriminant) (entities.SignedEntityType, entities.ProtocolMessage, bool) {
	if last, ok := lastCertified[discriminant]; ok && last.ImmutableFileNumber == tip.ImmutableFileNumber {
		return entities.SignedEntityType{}, nil, false
	}
	set := entities.SignedEntityType{
		Discriminant: discriminant,
		Beacon:       entities.Beacon{Epoch: tip.Epoch, ImmutableFileNumber: tip.ImmutableFileNumber},
	}
	return set, p.baseMessage(), true
}

func (p *DefaultPlanner) dueForBlock(tip scanner.ChainTip, lastCertified map[entities.SignedEntityDiscriminant]scanner.ChainTip) (entities.SignedEntityType, entities.ProtocolMessage, bool) {
	discriminant := entities.DiscriminantCardanoTransactions
	if last, ok := lastCertified[discriminant]; ok && last.BlockNumber == tip.BlockNumber {
		return entities.SignedEntityType{}, nil, false
	}
	set := entities.SignedEntityType{
		Discriminant: discriminant,
		Beacon:       entities.Beacon{Epoch: tip.Epoch, BlockNumber: tip.BlockNumber},
	}
	msg := p.baseMessage()
	msg[entities.PartLatestBlockNumber] = fmt.Sprintf("%d", tip.BlockNumber)
	return set, msg, true
}

func (p *DefaultPlanner) baseMessage() entities.ProtocolMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msg := entities.ProtocolMessage{entities.PartNetwork: p.network}
	if len(p.nextAVK) > 0 {
		msg[entities.PartNextAggregateVK] = fmt.Sprintf("%x", p.nextAVK)
	}
	if p.nextParams.M > 0 {
		msg[entities.PartNextProtocolParameters] = fmt.Sprintf("k=%d,m=%d,phi_f=%g", p.nextParams.K, p.nextParams.M, p.nextParams.PhiF)
	}
	return msg
}
