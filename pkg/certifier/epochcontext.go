package certifier

import (
	"context"
	"fmt"

	"github.com/stakecert/aggregator/pkg/epoch"
	"github.com/stakecert/aggregator/pkg/keystore"
	"github.com/stakecert/aggregator/pkg/multisig"
	"github.com/stakecert/aggregator/pkg/protoparams"
	"github.com/stakecert/aggregator/pkg/stakestore"
)

// StoreEpochContextProvider builds a multisig.EpochContext by reading
// the three stores that back one epoch's aggregation state. It is the
// production implementation of EpochContextProvider; tests inject
// their own fixed EpochContext instead.
type StoreEpochContextProvider struct {
	keys   *keystore.Store
	stake  *stakestore.Store
	params *protoparams.Store
}

// NewStoreEpochContextProvider wires the epoch context provider to its
// backing stores.
func NewStoreEpochContextProvider(keys *keystore.Store, stake *stakestore.Store, params *protoparams.Store) *StoreEpochContextProvider {
	return &StoreEpochContextProvider{keys: keys, stake: stake, params: params}
}

// EpochContext loads the registered keys, stake distribution and
// protocol parameters in effect at e.
func (p *StoreEpochContextProvider) EpochContext(ctx context.Context, e epoch.Epoch) (multisig.EpochContext, error) {
	keys, err := p.keys.All(ctx, e)
	if err != nil {
		return multisig.EpochContext{}, fmt.Errorf("load keys for epoch %d: %w", e, err)
	}
	stake, err := p.stake.Get(ctx, e)
	if err != nil {
		return multisig.EpochContext{}, fmt.Errorf("load stake for epoch %d: %w", e, err)
	}
	params, err := p.params.Get(ctx, e)
	if err != nil {
		return multisig.EpochContext{}, fmt.Errorf("load protocol parameters for epoch %d: %w", e, err)
	}

	return multisig.EpochContext{Params: params, Stake: stake, Keys: keys}, nil
}
