package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func aaplSpec(start time.Time, end *time.Time) model.AssetSpec {
	return model.AssetSpec{
		Symbol:     "AAPL",
		Provider:   model.ProviderAlpaca,
		AssetClass: model.UsEquity,
		Timeframe:  model.Timeframe{Amount: 1, Unit: model.Day},
		Range:      model.Range{Start: start, End: end},
	}
}

func TestUpsertSpecAddsAndReplayIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := aaplSpec(start, nil)

	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{spec})
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.RemovedIDs)

	diff2, err := s.UpsertSpec(ctx, []model.AssetSpec{spec})
	require.NoError(t, err)
	assert.True(t, diff2.Empty(), "replaying the same spec set must be a no-op")

	streams, err := s.ListStreams(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "AAPL", streams[0].Key.Symbol)
	assert.True(t, streams[0].DesiredStart.Equal(start))
}

func TestUpsertSpecModifiesAndRemoves(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, &end)})
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	id := diff.Added[0]

	newEnd := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	diff, err = s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, &newEnd)})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, diff.Modified)

	diff, err = s.UpsertSpec(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, diff.RemovedIDs)

	streams, err := s.ListStreams(ctx)
	require.NoError(t, err)
	assert.Empty(t, streams, "removed stream must not reappear in live listing")

	_, err = s.GetStream(ctx, id)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestApplySliceResultCommitsAndAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]

	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 2}}))

	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.GapLeased, gap.State)

	snap, err := s.GetStream(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Coverage.Version)
	revBefore := snap.Manifest.UpdateRev

	newWatermark := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	err = s.ApplySliceResult(ctx, repository.ApplySliceResultRequest{
		ManifestID:              id,
		GapID:                   gap.ID,
		CoveredRanges:           []repository.GapRange{{StartPos: 0, EndPos: 2}},
		Outcome:                 repository.OutcomeDone,
		NewWatermark:            &newWatermark,
		CoverageVersionExpected: snap.Coverage.Version,
	})
	require.NoError(t, err)

	snap2, err := s.GetStream(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap2.Coverage.Version)
	assert.Empty(t, snap2.OpenGaps, "committed gap must no longer be open")
	require.NotNil(t, snap2.Manifest.Watermark)
	assert.True(t, snap2.Manifest.Watermark.Equal(newWatermark))
	assert.Greater(t, snap2.Manifest.UpdateRev, revBefore, "watermark commit must bump update_rev")
}

func TestApplySliceResultStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 0}}))
	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.ApplySliceResult(ctx, repository.ApplySliceResultRequest{
		ManifestID:              id,
		GapID:                   gap.ID,
		CoveredRanges:           []repository.GapRange{{StartPos: 0, EndPos: 0}},
		Outcome:                 repository.OutcomeDone,
		CoverageVersionExpected: 99,
	})
	assert.ErrorIs(t, err, errs.ErrConflictRetry)
}

func TestApplySliceResultPartialCoverageReenqueuesResidual(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 4}}))
	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.ApplySliceResult(ctx, repository.ApplySliceResultRequest{
		ManifestID:              id,
		GapID:                   gap.ID,
		CoveredRanges:           []repository.GapRange{{StartPos: 0, EndPos: 1}},
		Outcome:                 repository.OutcomeDone,
		CoverageVersionExpected: 0,
		ResidualQueuedRange:     &repository.GapRange{StartPos: 2, EndPos: 4},
	})
	require.NoError(t, err)

	snap, err := s.GetStream(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.OpenGaps, 1)
	assert.Equal(t, int64(2), snap.OpenGaps[0].StartPos)
	assert.Equal(t, int64(4), snap.OpenGaps[0].EndPos)
	assert.Equal(t, model.GapQueued, snap.OpenGaps[0].State)
}

func TestAcquireLeaseStealsExpiredLease(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 0}}))

	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", -time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stolen, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be stealable")
	assert.Equal(t, gap.ID, stolen.ID)
	assert.Equal(t, "worker-2", stolen.LeaseOwner)
}

func TestReleaseLeaseRejectsWrongOwner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 0}}))
	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.ReleaseLease(ctx, gap.ID, "worker-2", repository.OutcomeFailed, "boom")
	assert.ErrorIs(t, err, errs.ErrLeaseNotOwned)

	require.NoError(t, s.ReleaseLease(ctx, gap.ID, "worker-1", repository.OutcomeFailed, "boom"))
	snap, err := s.GetStream(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.OpenGaps, 0, "a failed gap is terminal, not open")
}

func TestListFailedGapsExcludesOpenAndDoneGaps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{
		{StartPos: 0, EndPos: 0},
		{StartPos: 2, EndPos: 2},
		{StartPos: 4, EndPos: 4},
	}))

	failedGap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseLease(ctx, failedGap.ID, "worker-1", repository.OutcomeFailed, "boom"))

	queuedGap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseLease(ctx, queuedGap.ID, "worker-1", repository.OutcomeDone, ""))

	failed, err := s.ListFailedGaps(ctx, id)
	require.NoError(t, err)
	require.Len(t, failed, 1, "only the failed gap should be reported, not the done or still-queued ones")
	assert.Equal(t, failedGap.ID, failed[0].ID)
	assert.Equal(t, model.GapFailed, failed[0].State)
}

func TestGCDoneGapsDeletesOnlyGapsOlderThanCutoff(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := s.UpsertSpec(ctx, []model.AssetSpec{aaplSpec(start, nil)})
	require.NoError(t, err)
	id := diff.Added[0]
	require.NoError(t, s.EnqueueGaps(ctx, id, []repository.GapRange{{StartPos: 0, EndPos: 0}}))

	gap, ok, err := s.AcquireLease(ctx, []int64{id}, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseLease(ctx, gap.ID, "worker-1", repository.OutcomeDone, ""))

	n, err := s.GCDoneGaps(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "a gap done moments ago must survive a cutoff an hour in the past")

	n, err = s.GCDoneGaps(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a cutoff in the future must collect the done gap")
}
