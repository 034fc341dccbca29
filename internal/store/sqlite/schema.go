package sqlite

// schema defines the three tables of spec.md §6.3 plus an engine_kv table
// (carried from original_source/src/asset_sync/src/schema.rs) for schema
// version bookkeeping. Modeled after AntoineToussaint-timeoff's
// store/sqlite migrate() — CREATE TABLE/INDEX IF NOT EXISTS executed as one
// multi-statement Exec on New().
const schema = `
CREATE TABLE IF NOT EXISTS asset_manifest (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	provider TEXT NOT NULL,
	asset_class TEXT NOT NULL,
	tf_amount INTEGER NOT NULL CHECK (tf_amount > 0),
	tf_unit TEXT NOT NULL CHECK (tf_unit IN ('Minute','Hour','Day','Week','Month')),
	desired_start TEXT NOT NULL,
	desired_end TEXT,
	watermark TEXT,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	update_rev INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	UNIQUE (symbol, provider, asset_class, tf_amount, tf_unit)
);

CREATE INDEX IF NOT EXISTS idx_asset_manifest_live
	ON asset_manifest(deleted);

CREATE TABLE IF NOT EXISTS asset_coverage_bitmap (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	manifest_id INTEGER NOT NULL UNIQUE REFERENCES asset_manifest(id),
	bitmap BLOB NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS asset_gaps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	manifest_id INTEGER NOT NULL REFERENCES asset_manifest(id),
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('queued','leased','done','failed')),
	lease_owner TEXT,
	lease_expires_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_failure_at TEXT,
	last_error TEXT NOT NULL DEFAULT '',
	done_at TEXT,
	UNIQUE (manifest_id, start_ts, end_ts)
);

CREATE INDEX IF NOT EXISTS idx_asset_gaps_lease
	ON asset_gaps(manifest_id, state, lease_expires_at);

CREATE TABLE IF NOT EXISTS engine_kv (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

// Positions are stored as the grid-position offset from desired_start,
// rather than re-deriving them from start_ts/end_ts timestamps on every
// read, to keep acquire_lease and apply_slice_result free of calendar
// arithmetic (spec.md §3 notes start_ts/end_ts as instants; this store
// keeps the equivalent position integers in those columns since they are
// the unit the coverage bitmap and planner operate on, and instant_of is a
// cheap, pure function of (desired_start, timeframe, position)).
