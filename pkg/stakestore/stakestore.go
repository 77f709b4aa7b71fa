// Package stakestore persists the per-epoch stake distribution
// snapshot: which signer identity carries how much stake. Exactly one
// snapshot exists per epoch and, once sealed, it is immutable.
package stakestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// Store persists stake distribution snapshots.
type Store struct {
	client *database.Client
}

// New creates a new stake distribution store.
func New(client *database.Client) *Store {
	return &Store{client: client}
}

// Save records the stake distribution for an epoch. It is idempotent
// within an epoch: calling it again with the same signer/stake pairs
// is a no-op, but it refuses to change a stake value already recorded
// for a signer at that epoch.
func (s *Store) Save(ctx context.Context, e epoch.Epoch, dist entities.StakeDistribution) error {
	return s.client.RunInTx(ctx, func(tx *database.Tx) error {
		return s.SaveTx(ctx, tx, e, dist)
	})
}

// SaveTx records the stake distribution within an already-open
// transaction, letting callers (e.g. pkg/registerer) span this write
// and a key-store write atomically. It enforces the frozen-epoch
// invariant: once a later epoch's snapshot exists, this epoch is
// considered ended and further writes fail with database.ErrBadEpoch.
func (s *Store) SaveTx(ctx context.Context, tx *database.Tx, e epoch.Epoch, dist entities.StakeDistribution) error {
	frozen, err := epochFrozenTx(ctx, tx, "stake_pool", e)
	if err != nil {
		return err
	}
	if frozen {
		return fmt.Errorf("%w: stake distribution for epoch %d", database.ErrBadEpoch, e)
	}

	const query = `
		INSERT INTO stake_pool (epoch, signer_id, stake)
		VALUES ($1, $2, $3)
		ON CONFLICT (epoch, signer_id) DO UPDATE SET stake = EXCLUDED.stake
		WHERE stake_pool.stake = EXCLUDED.stake`

	for signerID, stake := range dist {
		if _, err := tx.Tx().ExecContext(ctx, query, uint64(e), string(signerID), stake); err != nil {
			return fmt.Errorf("save stake for signer %s: %w", signerID, err)
		}
	}

	return nil
}

// epochFrozenTx reports whether table already holds a snapshot for an
// epoch strictly later than e — if so, e has ended and its snapshot is
// frozen.
func epochFrozenTx(ctx context.Context, tx *database.Tx, table string, e epoch.Epoch) (bool, error) {
	var maxEpoch sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(epoch) FROM %s`, table)
	if err := tx.Tx().QueryRowContext(ctx, query).Scan(&maxEpoch); err != nil {
		return false, fmt.Errorf("check frozen epoch boundary: %w", err)
	}
	return maxEpoch.Valid && uint64(maxEpoch.Int64) > uint64(e), nil
}

// Get returns the stake distribution recorded for an epoch.
func (s *Store) Get(ctx context.Context, e epoch.Epoch) (entities.StakeDistribution, error) {
	rows, err := s.client.QueryContext(ctx, `SELECT signer_id, stake FROM stake_pool WHERE epoch = $1`, uint64(e))
	if err != nil {
		return nil, fmt.Errorf("query stake distribution: %w", err)
	}
	defer rows.Close()

	dist := make(entities.StakeDistribution)
	for rows.Next() {
		var signerID string
		var stake uint64
		if err := rows.Scan(&signerID, &stake); err != nil {
			return nil, fmt.Errorf("scan stake row: %w", err)
		}
		dist[entities.SignerIdentity(signerID)] = stake
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dist) == 0 {
		return nil, database.ErrStakeDistributionNotFound
	}
	return dist, nil
}

// StakeOf returns one signer's stake at an epoch, or zero if absent.
func (s *Store) StakeOf(ctx context.Context, e epoch.Epoch, signerID entities.SignerIdentity) (uint64, error) {
	var stake uint64
	err := s.client.QueryRowContext(ctx,
		`SELECT stake FROM stake_pool WHERE epoch = $1 AND signer_id = $2`,
		uint64(e), string(signerID)).Scan(&stake)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query signer stake: %w", err)
	}
	return stake, nil
}

// Prune deletes stake snapshots older than retention epochs behind
// current, per the retention policy in spec §4.1.
func (s *Store) Prune(ctx context.Context, current epoch.Epoch, retentionEpochs uint64) (int64, error) {
	if uint64(current) < retentionEpochs {
		return 0, nil
	}
	cutoff := uint64(current) - retentionEpochs
	res, err := s.client.ExecContext(ctx, `DELETE FROM stake_pool WHERE epoch < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune stake distributions: %w", err)
	}
	return res.RowsAffected()
}
