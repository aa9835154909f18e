package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AssetStage returns the persisted workflow stage for an asset. The bool
// reports whether the asset is known.
func (s *Store) AssetStage(ctx context.Context, assetID string) (string, bool, error) {
	var stage string
	err := s.db.QueryRowContext(ctx, `SELECT stage FROM asset_stages WHERE asset_id = ?`, assetID).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get asset stage: %w", err)
	}
	return stage, true, nil
}

// SetAssetStage persists the workflow stage for an asset.
func (s *Store) SetAssetStage(ctx context.Context, assetID, stage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO asset_stages (asset_id, stage, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(asset_id) DO UPDATE SET stage = excluded.stage, updated_at = excluded.updated_at`,
		assetID,
		stage,
		now,
	)
	if err != nil {
		return fmt.Errorf("set asset stage: %w", err)
	}
	return nil
}
