package sqlite

import (
	"database/sql"
	"time"

	"assetsync/internal/domain/model"
)

// timeLayout is RFC3339 with millisecond precision (spec.md §3, §4.1 "Time
// semantics").
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanManifestRow(row interface {
	Scan(dest ...any) error
}) (model.ManifestEntry, error) {
	var m model.ManifestEntry
	var desiredStart, createdAt, updatedAt string
	var desiredEnd, watermark sql.NullString
	var lastError string
	var deleted int
	err := row.Scan(
		&m.ID, &m.Key.Symbol, &m.Key.Provider, &m.Key.AssetClass,
		&m.Key.Timeframe.Amount, &m.Key.Timeframe.Unit,
		&desiredStart, &desiredEnd, &watermark, &lastError,
		&createdAt, &updatedAt, &m.UpdateRev, &deleted,
	)
	if err != nil {
		return model.ManifestEntry{}, err
	}
	m.LastError = lastError
	m.Deleted = deleted != 0
	if m.DesiredStart, err = parseTime(desiredStart); err != nil {
		return model.ManifestEntry{}, err
	}
	if m.DesiredEnd, err = parseTimePtr(desiredEnd); err != nil {
		return model.ManifestEntry{}, err
	}
	if m.Watermark, err = parseTimePtr(watermark); err != nil {
		return model.ManifestEntry{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.ManifestEntry{}, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.ManifestEntry{}, err
	}
	return m, nil
}

const manifestColumns = `id, symbol, provider, asset_class, tf_amount, tf_unit,
	desired_start, desired_end, watermark, last_error, created_at, updated_at, update_rev, deleted`
