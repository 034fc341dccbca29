// Package repository declares the capability interfaces the core depends
// on: the Manifest Store (spec.md §4.1, owned by this repo) and the
// Provider/Sink capabilities (spec.md §4.5, §6.1, §6.2 — external
// collaborators; the core only ever holds an interface value, never
// branches on provider code internally, per spec.md §9).
package repository

import (
	"context"
	"time"

	"assetsync/internal/domain/model"
)

// StreamSnapshot is the single-transaction view returned by GetStream
// (spec.md §4.1).
type StreamSnapshot struct {
	Manifest  model.ManifestEntry
	Coverage  CoverageBlob
	OpenGaps  []model.Gap
}

// CoverageBlob is the persisted coverage row (spec.md §3 "Coverage bitmap").
type CoverageBlob struct {
	Bitmap  []byte
	Version int64
}

// SliceOutcome describes a worker's fetch attempt for ApplySliceResult.
type SliceOutcome string

const (
	OutcomeDone   SliceOutcome = "done"
	OutcomeFailed SliceOutcome = "failed"
)

// ManifestStore is the durable catalog of desired streams, coverage blobs,
// and gap rows (spec.md §4.1). Implementations must provide write-ahead
// durability before a mutating call returns, and serialize multi-row
// mutations within a single stream.
type ManifestStore interface {
	// UpsertSpec reconciles the manifest to exactly the given declarative
	// set, atomically across all specs (spec.md §4.1, §6.4).
	UpsertSpec(ctx context.Context, specs []model.AssetSpec) (model.SpecDiff, error)

	// GetStream returns a single-transaction snapshot, or ErrNotFound.
	GetStream(ctx context.Context, id int64) (StreamSnapshot, error)

	// ListStreams returns all live (non soft-deleted) manifest entries, for
	// the planner's periodic tick and the runtime's worker assignment.
	ListStreams(ctx context.Context) ([]model.ManifestEntry, error)

	// EnqueueGaps inserts new queued gaps for a manifest (spec.md §4.3).
	// Gaps overlapping an existing open (queued or leased) gap are skipped.
	EnqueueGaps(ctx context.Context, manifestID int64, gaps []GapRange) error

	// ApplySliceResult atomically CAS-updates coverage, transitions the
	// named gap, and advances the watermark (spec.md §4.1, §4.4). Returns
	// errs.ErrConflictRetry if coverageVersionExpected is stale.
	ApplySliceResult(ctx context.Context, req ApplySliceResultRequest) error

	// AcquireLease picks the oldest queued gap, or a leased gap whose lease
	// has expired, across the given manifest ids, and returns it leased to
	// workerID (spec.md §4.1, §4.4). Returns a zero Gap, false and a nil
	// error when nothing is available.
	AcquireLease(ctx context.Context, manifestIDs []int64, workerID string, leaseTTL time.Duration) (model.Gap, bool, error)

	// ReleaseLease transitions a leased gap to done or failed, as outcome
	// says (spec.md §4.1); SliceOutcome has no value that returns the gap to
	// queued. Rejects with ErrLeaseNotOwned if workerID mismatches.
	ReleaseLease(ctx context.Context, gapID int64, workerID string, outcome SliceOutcome, failureMsg string) error

	// SetLastError updates a manifest's last_error without touching
	// coverage or gaps (spec.md §4.3 failure bookkeeping). Passing "" clears it.
	SetLastError(ctx context.Context, manifestID int64, msg string) error

	// RequeueFailedGaps transitions the given failed gaps back to queued,
	// once their failure cooldown has elapsed (spec.md §4.3 planner
	// decision; the planner computes which ids are eligible, this just
	// applies the transition).
	RequeueFailedGaps(ctx context.Context, gapIDs []int64) error

	// ListFailedGaps returns the terminal-failed gaps for a manifest, so the
	// planner can judge cooldown eligibility (spec.md §4.3) — GetStream's
	// OpenGaps deliberately excludes terminal states.
	ListFailedGaps(ctx context.Context, manifestID int64) ([]model.Gap, error)

	// GCDoneGaps deletes done gaps whose commit predates the retention
	// window, across all live manifests (spec.md §3 Lifecycles: "garbage
	// collected once in terminal done state beyond a retention window").
	GCDoneGaps(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// GapRange is a position range queued by the planner (spec.md §4.3).
type GapRange struct {
	StartPos int64
	EndPos   int64
}

// ApplySliceResultRequest is the atomic commit payload of spec.md §4.4.
type ApplySliceResultRequest struct {
	ManifestID              int64
	GapID                   int64
	CoveredRanges           []GapRange
	Outcome                 SliceOutcome
	FailureMsg              string
	NewWatermark            *time.Time
	CoverageVersionExpected int64
	// ResidualQueuedRange, if non-nil, is re-enqueued as a fresh queued gap
	// when the fetched slice only partially covered the leased gap
	// (spec.md §4.4 commit protocol step 3).
	ResidualQueuedRange *GapRange
}

// BarProvider is the external bar vendor capability (spec.md §4.5, §6.1).
// The core validates the returned invariants (sorted, unique, in-range,
// grid-aligned) and rejects violators without committing.
type BarProvider interface {
	FetchBars(ctx context.Context, key model.StreamKey, start, end time.Time, maxBars int, cursor string) (model.FetchPage, error)

	// Limits describes the provider's declared request budget (spec.md
	// §6.1), consulted by the planner's slicing policy and the runtime's
	// token-bucket limiter.
	Limits() ProviderLimits
}

// ProviderLimits is the static capability declaration of spec.md §6.1.
type ProviderLimits struct {
	MaxBarsPerRequest int
	RequestsPerMinute int
	SubscriptionPlan  model.SubscriptionPlan
	// MinLag is the per-plan minimum lag from now the planner enforces
	// when computing effective_end for open-ended streams.
	MinLag time.Duration
}

// Sink is the external durable-write capability (spec.md §4.5, §6.2). Must
// be idempotent on (stream_id, slice_range, bar-open-set); the core calls
// it exactly once per slice on the successful path.
type Sink interface {
	WriteSlice(ctx context.Context, key model.StreamKey, start, end time.Time, bars []model.Bar) error
}

// Metrics is the telemetry sink the runtime and planner report through
// (spec.md §1A). The concrete implementation is Prometheus-backed
// (pkg/metrics), but the core only ever holds this interface.
type Metrics interface {
	RecordGapQueued(provider string)
	RecordGapLeased(provider string)
	RecordGapCommitted(provider string)
	RecordGapFailed(provider string)
	ObserveFetchDuration(provider string, seconds float64)
	ObserveCommitDuration(provider string, seconds float64)
	ObserveLimiterWait(provider string, seconds float64)
	SetWatermarkLag(symbol, provider, timeframe string, seconds float64)
}
