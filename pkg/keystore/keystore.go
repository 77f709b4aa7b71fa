// Package keystore persists verification keys registered by signers.
// At most one verification key is recorded per (signer, epoch) pair,
// and registrations are append-only: a key once recorded for an epoch
// is never overwritten.
package keystore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// Store persists verification keys.
type Store struct {
	client *database.Client
}

// New creates a new verification key store.
func New(client *database.Client) *Store {
	return &Store{client: client}
}

// Register records a verification key for a signer at an epoch. It
// fails with database.ErrAlreadyRegistered if that signer already has
// a key recorded for that epoch.
func (s *Store) Register(ctx context.Context, vk entities.VerificationKey) error {
	return s.client.RunInTx(ctx, func(tx *database.Tx) error {
		return s.RegisterTx(ctx, tx, vk)
	})
}

// RegisterTx records a verification key within an already-open
// transaction, letting callers (e.g. pkg/registerer) span this write
// and a stake-store write atomically. It enforces the frozen-epoch
// invariant: once a later epoch's key is on record, this epoch is
// considered ended and further writes fail with database.ErrBadEpoch.
func (s *Store) RegisterTx(ctx context.Context, tx *database.Tx, vk entities.VerificationKey) error {
	frozen, err := epochFrozenTx(ctx, tx, "verification_key", vk.Epoch)
	if err != nil {
		return err
	}
	if frozen {
		return fmt.Errorf("%w: verification key for epoch %d", database.ErrBadEpoch, vk.Epoch)
	}

	const query = `
		INSERT INTO verification_key (epoch, signer_id, public_key, proof_of_possession)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (epoch, signer_id) DO NOTHING`

	res, err := tx.Tx().ExecContext(ctx, query,
		uint64(vk.Epoch), string(vk.SignerID), vk.PublicKeyBytes, vk.ProofOfPossession)
	if err != nil {
		return fmt.Errorf("register verification key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register verification key: %w", err)
	}
	if rows == 0 {
		return database.ErrAlreadyRegistered
	}
	return nil
}

// epochFrozenTx reports whether table already holds a row for an
// epoch strictly later than e — if so, e has ended and its snapshot is
// frozen, per spec.md's frozen-epoch invariant.
func epochFrozenTx(ctx context.Context, tx *database.Tx, table string, e epoch.Epoch) (bool, error) {
	var maxEpoch sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(epoch) FROM %s`, table)
	if err := tx.Tx().QueryRowContext(ctx, query).Scan(&maxEpoch); err != nil {
		return false, fmt.Errorf("check frozen epoch boundary: %w", err)
	}
	return maxEpoch.Valid && uint64(maxEpoch.Int64) > uint64(e), nil
}

// Get returns the verification key recorded for a signer at an epoch.
func (s *Store) Get(ctx context.Context, e epoch.Epoch, signerID entities.SignerIdentity) (entities.VerificationKey, error) {
	var vk entities.VerificationKey
	vk.Epoch = e
	vk.SignerID = signerID

	err := s.client.QueryRowContext(ctx,
		`SELECT public_key, proof_of_possession FROM verification_key WHERE epoch = $1 AND signer_id = $2`,
		uint64(e), string(signerID)).Scan(&vk.PublicKeyBytes, &vk.ProofOfPossession)
	if err == sql.ErrNoRows {
		return entities.VerificationKey{}, database.ErrVerificationKeyNotFound
	}
	if err != nil {
		return entities.VerificationKey{}, fmt.Errorf("get verification key: %w", err)
	}
	return vk, nil
}

// All returns every verification key registered for an epoch, keyed by
// signer identity.
func (s *Store) All(ctx context.Context, e epoch.Epoch) (map[entities.SignerIdentity]entities.VerificationKey, error) {
	rows, err := s.client.QueryContext(ctx,
		`SELECT signer_id, public_key, proof_of_possession FROM verification_key WHERE epoch = $1`,
		uint64(e))
	if err != nil {
		return nil, fmt.Errorf("query verification keys: %w", err)
	}
	defer rows.Close()

	result := make(map[entities.SignerIdentity]entities.VerificationKey)
	for rows.Next() {
		var signerID string
		vk := entities.VerificationKey{Epoch: e}
		if err := rows.Scan(&signerID, &vk.PublicKeyBytes, &vk.ProofOfPossession); err != nil {
			return nil, fmt.Errorf("scan verification key: %w", err)
		}
		vk.SignerID = entities.SignerIdentity(signerID)
		result[vk.SignerID] = vk
	}
	return result, rows.Err()
}

// Prune deletes verification keys older than retention epochs behind
// current.
func (s *Store) Prune(ctx context.Context, current epoch.Epoch, retentionEpochs uint64) (int64, error) {
	if uint64(current) < retentionEpochs {
		return 0, nil
	}
	cutoff := uint64(current) - retentionEpochs
	res, err := s.client.ExecContext(ctx, `DELETE FROM verification_key WHERE epoch < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune verification keys: %w", err)
	}
	return res.RowsAffected()
}
