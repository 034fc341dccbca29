package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
)

// UpsertSpec reconciles the manifest to exactly the given declarative set,
// atomically across all specs (spec.md §4.1 upsert_spec, §6.4). Removals
// are soft: the row is marked deleted only after its coverage and gap rows
// are purged in the same transaction (spec.md §3 Lifecycles).
func (s *Store) UpsertSpec(ctx context.Context, specs []model.AssetSpec) (model.SpecDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SpecDiff{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var diff model.SpecDiff
	wanted := make(map[int64]bool)

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return model.SpecDiff{}, errs.NewConfiguration("invalid spec for %s: %v", spec.Key(), err)
		}
		aligned := alignSpec(spec)

		id, existing, err := findManifestTx(ctx, tx, aligned.Key())
		if err != nil {
			return model.SpecDiff{}, err
		}
		if id == 0 {
			newID, err := insertManifestTx(ctx, tx, aligned, now)
			if err != nil {
				return model.SpecDiff{}, err
			}
			if err := insertEmptyCoverageTx(ctx, tx, newID); err != nil {
				return model.SpecDiff{}, err
			}
			diff.Added = append(diff.Added, newID)
			wanted[newID] = true
			continue
		}

		wanted[id] = true
		changed := existing.DesiredStart != aligned.Range.Start ||
			!samePtrTime(existing.DesiredEnd, aligned.Range.End)
		if changed {
			if err := updateManifestRangeTx(ctx, tx, id, aligned, now); err != nil {
				return model.SpecDiff{}, err
			}
			diff.Modified = append(diff.Modified, id)
		}
	}

	liveIDs, err := listLiveIDsTx(ctx, tx)
	if err != nil {
		return model.SpecDiff{}, err
	}
	for _, id := range liveIDs {
		if wanted[id] {
			continue
		}
		if err := softDeleteManifestTx(ctx, tx, id, now); err != nil {
			return model.SpecDiff{}, err
		}
		diff.RemovedIDs = append(diff.RemovedIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return model.SpecDiff{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return diff, nil
}

// alignSpec floors desired_start/desired_end to the timeframe's grid
// (spec.md §3 invariant: non-aligned instants are floored and re-stored).
func alignSpec(spec model.AssetSpec) model.AssetSpec {
	epochGrid := coverage.NewEpochGrid(spec.Range.Start, spec.Key().Timeframe)
	spec.Range.Start = epochGrid.FloorToGrid(spec.Range.Start)
	if spec.Range.End != nil {
		end := epochGrid.FloorToGrid(*spec.Range.End)
		spec.Range.End = &end
	}
	return spec
}

func samePtrTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func findManifestTx(ctx context.Context, tx *sql.Tx, key model.StreamKey) (int64, model.ManifestEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+manifestColumns+` FROM asset_manifest
		WHERE symbol = ? AND provider = ? AND asset_class = ? AND tf_amount = ? AND tf_unit = ? AND deleted = 0`,
		key.Symbol, key.Provider, key.AssetClass, key.Timeframe.Amount, key.Timeframe.Unit)
	m, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return 0, model.ManifestEntry{}, nil
	}
	if err != nil {
		return 0, model.ManifestEntry{}, fmt.Errorf("sqlite: find manifest: %w", err)
	}
	return m.ID, m, nil
}

func insertManifestTx(ctx context.Context, tx *sql.Tx, spec model.AssetSpec, now time.Time) (int64, error) {
	key := spec.Key()
	res, err := tx.ExecContext(ctx, `INSERT INTO asset_manifest
		(symbol, provider, asset_class, tf_amount, tf_unit, desired_start, desired_end, watermark, last_error, created_at, updated_at, update_rev, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '', ?, ?, 0, 0)`,
		key.Symbol, key.Provider, key.AssetClass, key.Timeframe.Amount, key.Timeframe.Unit,
		formatTime(spec.Range.Start), formatTimePtrOf(spec.Range.End),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert manifest: %w", err)
	}
	return res.LastInsertId()
}

func formatTimePtrOf(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func insertEmptyCoverageTx(ctx context.Context, tx *sql.Tx, manifestID int64) error {
	b, err := coverage.New().Bytes()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO asset_coverage_bitmap (manifest_id, bitmap, version) VALUES (?, ?, 0)`, manifestID, b)
	if err != nil {
		return fmt.Errorf("sqlite: insert coverage: %w", err)
	}
	return nil
}

func updateManifestRangeTx(ctx context.Context, tx *sql.Tx, id int64, spec model.AssetSpec, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE asset_manifest SET desired_start = ?, desired_end = ?,
		updated_at = ?, update_rev = update_rev + 1 WHERE id = ?`,
		formatTime(spec.Range.Start), formatTimePtrOf(spec.Range.End), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("sqlite: update manifest: %w", err)
	}
	return nil
}

func listLiveIDsTx(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM asset_manifest WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list live ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// softDeleteManifestTx purges coverage and gap rows before marking the
// manifest deleted, in the same transaction (spec.md §3 Lifecycles).
func softDeleteManifestTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_gaps WHERE manifest_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: purge gaps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_coverage_bitmap WHERE manifest_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: purge coverage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE asset_manifest SET deleted = 1, updated_at = ?, update_rev = update_rev + 1 WHERE id = ?`,
		formatTime(now), id); err != nil {
		return fmt.Errorf("sqlite: soft delete manifest: %w", err)
	}
	return nil
}

// ListStreams returns all live manifest entries (spec.md §4.3 periodic tick,
// §4.4 worker assignment).
func (s *Store) ListStreams(ctx context.Context) ([]model.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+manifestColumns+` FROM asset_manifest WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list streams: %w", err)
	}
	defer rows.Close()

	var out []model.ManifestEntry
	for rows.Next() {
		m, err := scanManifestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetLastError updates a manifest's last_error without touching coverage or
// gaps (spec.md §4.3 failure bookkeeping; a successful commit clears it via
// the same call with msg == "").
func (s *Store) SetLastError(ctx context.Context, manifestID int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE asset_manifest SET last_error = ?, updated_at = ?, update_rev = update_rev + 1
		WHERE id = ? AND deleted = 0`, msg, formatTime(now), manifestID)
	if err != nil {
		return fmt.Errorf("sqlite: set last_error: %w", err)
	}
	return nil
}
