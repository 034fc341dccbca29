package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

const gapColumns = `id, manifest_id, start_ts, end_ts, state, lease_owner, lease_expires_at,
	attempts, last_failure_at, last_error, done_at`

func scanGapRow(row interface {
	Scan(dest ...any) error
}) (model.Gap, error) {
	var g model.Gap
	var state string
	var lastError string
	var leaseOwner, leaseExpiresAt, lastFailureAt, doneAt sql.NullString
	err := row.Scan(
		&g.ID, &g.ManifestID, &g.StartPos, &g.EndPos, &state,
		&leaseOwner, &leaseExpiresAt, &g.Attempts, &lastFailureAt, &lastError, &doneAt,
	)
	if err != nil {
		return model.Gap{}, err
	}
	g.State = model.GapState(state)
	g.LeaseOwner = leaseOwner.String
	g.LastError = lastError
	if g.LeaseExpiresAt, err = parseTimePtr(leaseExpiresAt); err != nil {
		return model.Gap{}, err
	}
	if g.LastFailureAt, err = parseTimePtr(lastFailureAt); err != nil {
		return model.Gap{}, err
	}
	if g.DoneAt, err = parseTimePtr(doneAt); err != nil {
		return model.Gap{}, err
	}
	return g, nil
}

// ListFailedGaps returns the terminal-failed gaps for a manifest — GetStream
// deliberately excludes terminal states from OpenGaps, so the planner's
// cooldown check reads this separately (spec.md §4.3).
func (s *Store) ListFailedGaps(ctx context.Context, manifestID int64) ([]model.Gap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+gapColumns+` FROM asset_gaps
		WHERE manifest_id = ? AND state = 'failed' ORDER BY start_ts`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list failed gaps: %w", err)
	}
	defer rows.Close()

	var out []model.Gap
	for rows.Next() {
		g, err := scanGapRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan failed gap: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GCDoneGaps deletes done gaps whose done_at predates olderThan, across all
// manifests (spec.md §3 Lifecycles retention window).
func (s *Store) GCDoneGaps(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM asset_gaps WHERE state = 'done' AND done_at < ?`,
		formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("sqlite: gc done gaps: %w", err)
	}
	return res.RowsAffected()
}

// EnqueueGaps inserts new queued gaps for a manifest. A gap that overlaps an
// open (queued or leased) gap of the manifest, or whose (manifest_id,
// start_ts, end_ts) already exists, is silently skipped — the planner's own
// already-open-gap subtraction is the primary defense, this is a backstop
// (spec.md §4.3).
func (s *Store) EnqueueGaps(ctx context.Context, manifestID int64, gaps []repository.GapRange) error {
	if len(gaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	for _, g := range gaps {
		var overlapping int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM asset_gaps
			WHERE manifest_id = ? AND state IN ('queued', 'leased') AND start_ts <= ? AND end_ts >= ?`,
			manifestID, g.EndPos, g.StartPos).Scan(&overlapping); err != nil {
			return fmt.Errorf("sqlite: enqueue gap overlap check: %w", err)
		}
		if overlapping > 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO asset_gaps
			(manifest_id, start_ts, end_ts, state, attempts) VALUES (?, ?, ?, 'queued', 0)`,
			manifestID, g.StartPos, g.EndPos)
		if err != nil {
			return fmt.Errorf("sqlite: enqueue gap: %w", err)
		}
	}
	return tx.Commit()
}

// RequeueFailedGaps transitions the given gaps from failed back to queued
// (spec.md §4.3 failure cooldown). Ids that are not currently failed are
// silently skipped.
func (s *Store) RequeueFailedGaps(ctx context.Context, gapIDs []int64) error {
	if len(gapIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range gapIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'queued', last_failure_at = NULL
			WHERE id = ? AND state = 'failed'`, id); err != nil {
			return fmt.Errorf("sqlite: requeue gap: %w", err)
		}
	}
	return tx.Commit()
}

// AcquireLease picks the oldest queued gap, or the oldest gap whose lease
// has expired, across the given manifest ids (spec.md §4.1, §4.4). The
// SELECT-then-UPDATE is performed under the store's write lock so no two
// callers can acquire the same row; a real multi-process deployment would
// additionally rely on SQLite's single-writer serialization.
func (s *Store) AcquireLease(ctx context.Context, manifestIDs []int64, workerID string, leaseTTL time.Duration) (model.Gap, bool, error) {
	if len(manifestIDs) == 0 {
		return model.Gap{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Gap{}, false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	placeholders := make([]string, len(manifestIDs))
	args := make([]any, 0, len(manifestIDs)+1)
	for i, id := range manifestIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, formatTime(now))
	query := fmt.Sprintf(`SELECT %s FROM asset_gaps
		WHERE manifest_id IN (%s)
		AND (state = 'queued' OR (state = 'leased' AND lease_expires_at < ?))
		ORDER BY (state = 'leased'), id ASC LIMIT 1`,
		gapColumns, strings.Join(placeholders, ","))

	row := tx.QueryRowContext(ctx, query, args...)
	g, err := scanGapRow(row)
	if err == sql.ErrNoRows {
		return model.Gap{}, false, nil
	}
	if err != nil {
		return model.Gap{}, false, fmt.Errorf("sqlite: acquire lease select: %w", err)
	}

	expires := now.Add(leaseTTL)
	_, err = tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'leased', lease_owner = ?,
		lease_expires_at = ?, attempts = attempts + 1 WHERE id = ?`,
		workerID, formatTime(expires), g.ID)
	if err != nil {
		return model.Gap{}, false, fmt.Errorf("sqlite: acquire lease update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Gap{}, false, fmt.Errorf("sqlite: commit: %w", err)
	}

	g.State = model.GapLeased
	g.LeaseOwner = workerID
	g.LeaseExpiresAt = &expires
	g.Attempts++
	return g, true, nil
}

// ReleaseLease transitions a leased gap to a terminal state, enforcing that
// only the leaseholder can release it (spec.md §4.1, §4.4). Workers call
// this directly only on outright failure; the success path goes through
// ApplySliceResult, which performs the equivalent transition as part of the
// coverage commit.
func (s *Store) ReleaseLease(ctx context.Context, gapID int64, workerID string, outcome repository.SliceOutcome, failureMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var owner sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT lease_owner FROM asset_gaps WHERE id = ? AND state = 'leased'`, gapID).Scan(&owner)
	if err == sql.ErrNoRows {
		return errs.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: release lease select: %w", err)
	}
	if owner.String != workerID {
		return errs.ErrLeaseNotOwned
	}

	now := time.Now().UTC()
	switch outcome {
	case repository.OutcomeDone:
		_, err = tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'done', lease_owner = NULL,
			lease_expires_at = NULL, done_at = ? WHERE id = ?`, formatTime(now), gapID)
	case repository.OutcomeFailed:
		_, err = tx.ExecContext(ctx, `UPDATE asset_gaps SET state = 'failed', lease_owner = NULL,
			lease_expires_at = NULL, last_failure_at = ?, last_error = ? WHERE id = ?`,
			formatTime(now), failureMsg, gapID)
	default:
		return errs.NewInvariantViolation("sqlite: unknown outcome %q", outcome)
	}
	if err != nil {
		return fmt.Errorf("sqlite: release lease update: %w", err)
	}
	return tx.Commit()
}
