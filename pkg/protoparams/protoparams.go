// Package protoparams persists the protocol parameters (k, m, phi_f)
// fixed once per epoch.
package protoparams

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stakecert/aggregator/pkg/database"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// Store persists protocol parameters.
type Store struct {
	client *database.Client
}

// New creates a new protocol parameters store.
func New(client *database.Client) *Store {
	return &Store{client: client}
}

// Set records the protocol parameters for an epoch. Parameters for an
// epoch are fixed once set; a second call with different values is
// rejected.
func (s *Store) Set(ctx context.Context, e epoch.Epoch, params entities.ProtocolParameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid protocol parameters: %w", err)
	}

	const query = `
		INSERT INTO protocol_parameters (epoch, k, m, phi_f)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (epoch) DO NOTHING`

	res, err := s.client.ExecContext(ctx, query, uint64(e), params.K, params.M, params.PhiF)
	if err != nil {
		return fmt.Errorf("set protocol parameters: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set protocol parameters: %w", err)
	}
	if rows == 0 {
		existing, getErr := s.Get(ctx, e)
		if getErr == nil && existing != params {
			return fmt.Errorf("protocol parameters for epoch %d already fixed to %+v", e, existing)
		}
	}
	return nil
}

// Get returns the protocol parameters recorded for an epoch.
func (s *Store) Get(ctx context.Context, e epoch.Epoch) (entities.ProtocolParameters, error) {
	var p entities.ProtocolParameters
	err := s.client.QueryRowContext(ctx,
		`SELECT k, m, phi_f FROM protocol_parameters WHERE epoch = $1`, uint64(e)).
		Scan(&p.K, &p.M, &p.PhiF)
	if err == sql.ErrNoRows {
		return entities.ProtocolParameters{}, database.ErrProtocolParametersNotFound
	}
	if err != nil {
		return entities.ProtocolParameters{}, fmt.Errorf("get protocol parameters: %w", err)
	}
	return p, nil
}
