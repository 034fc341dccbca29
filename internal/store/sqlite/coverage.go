package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/repository"
)

// GetStream returns a single-transaction snapshot of a manifest, its
// coverage blob, and its open gaps (spec.md §4.1).
func (s *Store) GetStream(ctx context.Context, id int64) (repository.StreamSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return repository.StreamSnapshot{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+manifestColumns+` FROM asset_manifest WHERE id = ? AND deleted = 0`, id)
	m, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return repository.StreamSnapshot{}, errs.ErrNotFound
	}
	if err != nil {
		return repository.StreamSnapshot{}, fmt.Errorf("sqlite: get stream manifest: %w", err)
	}

	var blob repository.CoverageBlob
	err = tx.QueryRowContext(ctx, `SELECT bitmap, version FROM asset_coverage_bitmap WHERE manifest_id = ?`, id).
		Scan(&blob.Bitmap, &blob.Version)
	if err != nil {
		return repository.StreamSnapshot{}, fmt.Errorf("sqlite: get stream coverage: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+gapColumns+` FROM asset_gaps
		WHERE manifest_id = ? AND state IN ('queued', 'leased') ORDER BY start_ts`, id)
	if err != nil {
		return repository.StreamSnapshot{}, fmt.Errorf("sqlite: get stream gaps: %w", err)
	}
	defer rows.Close()

	var snap repository.StreamSnapshot
	snap.Manifest = m
	snap.Coverage = blob
	for rows.Next() {
		g, err := scanGapRow(rows)
		if err != nil {
			return repository.StreamSnapshot{}, fmt.Errorf("sqlite: scan gap: %w", err)
		}
		snap.OpenGaps = append(snap.OpenGaps, g)
	}
	if err := rows.Err(); err != nil {
		return repository.StreamSnapshot{}, err
	}
	return snap, tx.Commit()
}

// ApplySliceResult is the atomic commit of spec.md §4.1/§4.4: CAS-checks the
// coverage version, OR-merges the covered ranges, transitions the gap
// (done, failed, or split into a done portion plus a re-enqueued residual),
// and persists the caller-computed watermark. Returns errs.ErrConflictRetry
// if req.CoverageVersionExpected no longer matches, so the caller can
// re-read and retry (spec.md §4.4 "bounded retry on CAS conflict").
func (s *Store) ApplySliceResult(ctx context.Context, req repository.ApplySliceResultRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var bitmapBytes []byte
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT bitmap, version FROM asset_coverage_bitmap WHERE manifest_id = ?`, req.ManifestID).
		Scan(&bitmapBytes, &version)
	if err == sql.ErrNoRows {
		return errs.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: apply slice result select: %w", err)
	}
	if version != req.CoverageVersionExpected {
		return errs.ErrConflictRetry
	}

	if len(req.CoveredRanges) > 0 {
		bm, err := coverage.FromBytes(bitmapBytes)
		if err != nil {
			return err
		}
		for _, r := range req.CoveredRanges {
			bm.MarkCovered(coverage.Range{Start: r.StartPos, End: r.EndPos})
		}
		bitmapBytes, err = bm.Bytes()
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE asset_coverage_bitmap SET bitmap = ?, version = version + 1 WHERE manifest_id = ?`,
		bitmapBytes, req.ManifestID)
	if err != nil {
		return fmt.Errorf("sqlite: apply slice result bitmap update: %w", err)
	}

	if err := transitionGapTx(ctx, tx, req); err != nil {
		return err
	}

	if req.NewWatermark != nil {
		_, err = tx.ExecContext(ctx, `UPDATE asset_manifest SET watermark = ?, updated_at = ?, update_rev = update_rev + 1 WHERE id = ?`,
			formatTime(*req.NewWatermark), formatTime(time.Now().UTC()), req.ManifestID)
		if err != nil {
			return fmt.Errorf("sqlite: apply slice result watermark update: %w", err)
		}
	}

	return tx.Commit()
}

func transitionGapTx(ctx context.Context, tx *sql.Tx, req repository.ApplySliceResultRequest) error {
	now := time.Now().UTC()
	switch req.Outcome {
	case repository.OutcomeDone:
		if req.ResidualQueuedRange != nil {
			// Partial coverage: the leased gap is done for the covered
			// portion; the uncovered remainder goes back to queued as a
			// fresh row (spec.md §4.4 commit protocol step 3).
			if _, err := tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'done', lease_owner = NULL,
				lease_expires_at = NULL, done_at = ? WHERE id = ?`, formatTime(now), req.GapID); err != nil {
				return fmt.Errorf("sqlite: transition gap done: %w", err)
			}
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO asset_gaps
				(manifest_id, start_ts, end_ts, state, attempts) VALUES (?, ?, ?, 'queued', 0)`,
				req.ManifestID, req.ResidualQueuedRange.StartPos, req.ResidualQueuedRange.EndPos)
			if err != nil {
				return fmt.Errorf("sqlite: transition gap residual: %w", err)
			}
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'done', lease_owner = NULL,
			lease_expires_at = NULL, done_at = ? WHERE id = ?`, formatTime(now), req.GapID); err != nil {
			return fmt.Errorf("sqlite: transition gap done: %w", err)
		}
	case repository.OutcomeFailed:
		if _, err := tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'failed', lease_owner = NULL,
			lease_expires_at = NULL, last_failure_at = ?, last_error = ? WHERE id = ?`,
			formatTime(now), req.FailureMsg, req.GapID); err != nil {
			return fmt.Errorf("sqlite: transition gap failed: %w", err)
		}
	default:
		return errs.NewInvariantViolation("sqlite: unknown outcome %q", req.Outcome)
	}
	return nil
}
