package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/job"
	"github.com/mssind/configurator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, repo *JobRepository, createdAt time.Time) *models.Job {
	t.Helper()
	j := &models.Job{
		ConfigurationID: "11111111-1111-4111-8111-111111111111",
		MaxRetries:      3,
		CreatedAt:       createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), j))
	return j
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, config.JobStatusPending, j.Status)

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, config.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.ResultURL)
	assert.Nil(t, got.ErrorCode)
	assert.Nil(t, got.WorkerID)
	assert.False(t, got.NextRunAt.IsZero())
}

func TestJobRepository_GetUnknownID(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))

	_, err := repo.Get(context.Background(), "22222222-2222-4222-8222-222222222222")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestJobRepository_ClaimNext(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	oldest := newTestJob(t, repo, base)
	middle := newTestJob(t, repo, base.Add(time.Second))
	newest := newTestJob(t, repo, base.Add(2*time.Second))

	claimed, err := repo.ClaimNext(ctx, 2, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Oldest first, limit respected, lease running from the claim.
	assert.Equal(t, oldest.ID, claimed[0].ID)
	assert.Equal(t, middle.ID, claimed[1].ID)
	for _, c := range claimed {
		assert.Equal(t, config.JobStatusQueued, c.Status)
		require.NotNil(t, c.WorkerID)
		assert.Equal(t, "worker-1", *c.WorkerID)
		require.NotNil(t, c.LeaseUntil)
		assert.True(t, c.LeaseUntil.After(time.Now().UTC()))
	}

	// Claimed jobs are invisible to a second claimer.
	claimed2, err := repo.ClaimNext(ctx, 10, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed2, 1)
	assert.Equal(t, newest.ID, claimed2[0].ID)
}

func TestJobRepository_ClaimNextHonorsNextRunAt(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := &models.Job{
		ConfigurationID: "11111111-1111-4111-8111-111111111111",
		MaxRetries:      3,
		NextRunAt:       time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, j))

	claimed, err := repo.ClaimNext(ctx, 10, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "backed-off job must not be claimable before next_run_at")
}

func TestJobRepository_MarkProcessing(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())

	// Not claimable straight from PENDING.
	err := repo.MarkProcessing(ctx, j.ID, time.Minute)
	assert.Error(t, err)

	_, err = repo.ClaimNext(ctx, 1, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessing(ctx, j.ID, time.Minute))

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.LeaseUntil)
}

func TestJobRepository_CompleteClearsErrorFields(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())
	claimAndProcess(t, repo, j.ID)

	// First attempt fails and is requeued with its error recorded.
	require.NoError(t, repo.Requeue(ctx, j.ID, config.ErrCodeTimeout, "engine exceeded deadline", time.Now().UTC()))

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 0, got.Progress)
	assert.Nil(t, got.WorkerID)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, config.ErrCodeTimeout, *got.ErrorCode)

	// Second attempt succeeds; success clears the stale error.
	claimAndProcess(t, repo, j.ID)
	require.NoError(t, repo.MarkCompleted(ctx, j.ID, "http://store/jobs/x.glb"))

	got, err = repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ResultURL)
	assert.Equal(t, "http://store/jobs/x.glb", *got.ResultURL)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.ErrorCode)
	assert.Nil(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestJobRepository_MarkFailed(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())
	claimAndProcess(t, repo, j.ID)

	require.NoError(t, repo.MarkFailed(ctx, j.ID, config.ErrCodeProcessError, "engine exited 1"))

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, config.ErrCodeProcessError, *got.ErrorCode)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "engine exited 1", *got.ErrorMessage)
	assert.Nil(t, got.ResultURL)
	assert.NotNil(t, got.CompletedAt)

	// Terminal: a second transition attempt must not apply.
	assert.Error(t, repo.MarkCompleted(ctx, j.ID, "http://late"))
}

func TestJobRepository_Cancel(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	t.Run("pending job cancels", func(t *testing.T) {
		j := newTestJob(t, repo, time.Now().UTC())
		got, err := repo.Cancel(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCancelled, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("queued job cancels", func(t *testing.T) {
		j := newTestJob(t, repo, time.Now().UTC())
		_, err := repo.ClaimNext(ctx, 1, "worker-1", time.Minute)
		require.NoError(t, err)
		got, err := repo.Cancel(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCancelled, got.Status)
	})

	t.Run("processing job is rejected unchanged", func(t *testing.T) {
		j := newTestJob(t, repo, time.Now().UTC())
		claimAndProcess(t, repo, j.ID)

		got, err := repo.Cancel(ctx, j.ID)
		assert.ErrorIs(t, err, job.ErrInvalidState)
		require.NotNil(t, got)
		assert.Equal(t, config.JobStatusProcessing, got.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.Cancel(ctx, "33333333-3333-4333-8333-333333333333")
		assert.ErrorIs(t, err, job.ErrNotFound)
	})
}

func TestJobRepository_UpdateProgress(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())

	// Ignored while not PROCESSING.
	require.NoError(t, repo.UpdateProgress(ctx, j.ID, 50))
	got, _ := repo.Get(ctx, j.ID)
	assert.Equal(t, 0, got.Progress)

	claimAndProcess(t, repo, j.ID)
	require.NoError(t, repo.UpdateProgress(ctx, j.ID, 40))
	got, _ = repo.Get(ctx, j.ID)
	assert.Equal(t, 40, got.Progress)

	// Monotonic within an attempt: stale writes do not go backwards.
	require.NoError(t, repo.UpdateProgress(ctx, j.ID, 20))
	got, _ = repo.Get(ctx, j.ID)
	assert.Equal(t, 40, got.Progress)

	// Clamped to range.
	require.NoError(t, repo.UpdateProgress(ctx, j.ID, 250))
	got, _ = repo.Get(ctx, j.ID)
	assert.Equal(t, 100, got.Progress)
}

func TestJobRepository_ListExpiredLeases(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	staleProcessing := newTestJob(t, repo, base)
	staleQueued := newTestJob(t, repo, base.Add(time.Second))
	fresh := newTestJob(t, repo, base.Add(2*time.Second))

	// Worker started the render, then died: PROCESSING with an expired lease.
	_, err := repo.ClaimNext(ctx, 1, "worker-1", -time.Second)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessing(ctx, staleProcessing.ID, -time.Second))

	// Worker died between claim and MarkProcessing: QUEUED, lease expired.
	claimed, err := repo.ClaimNext(ctx, 1, "worker-2", -time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, staleQueued.ID, claimed[0].ID)

	// Healthy worker with a live lease.
	_, err = repo.ClaimNext(ctx, 1, "worker-3", time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessing(ctx, fresh.ID, time.Hour))

	expired, err := repo.ListExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	ids := []string{expired[0].ID, expired[1].ID}
	assert.Contains(t, ids, staleProcessing.ID)
	assert.Contains(t, ids, staleQueued.ID)
	assert.NotContains(t, ids, fresh.ID)
}

func TestJobRepository_RequeueAbandonedClaim(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()

	j := newTestJob(t, repo, time.Now().UTC())
	_, err := repo.ClaimNext(ctx, 1, "worker-1", -time.Second)
	require.NoError(t, err)

	// Requeue applies straight from QUEUED; the reaper never sees a
	// MarkProcessing for a claim whose worker died first.
	require.NoError(t, repo.Requeue(ctx, j.ID, config.ErrCodeProcessError, "worker lease expired", time.Now().UTC()))

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.LeaseUntil)

	claimed, err := repo.ClaimNext(ctx, 1, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, j.ID, claimed[0].ID)
}

func TestJobRepository_List(t *testing.T) {
	repo := NewJobRepository(SetupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	a := newTestJob(t, repo, base)
	newTestJob(t, repo, base.Add(time.Second))

	_, err := repo.Cancel(ctx, a.ID)
	require.NoError(t, err)

	all, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := repo.List(ctx, config.JobStatusCancelled, 10)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)
}

func claimAndProcess(t *testing.T, repo *JobRepository, id string) {
	t.Helper()
	ctx := context.Background()
	claimed, err := repo.ClaimNext(ctx, 10, "worker-1", time.Minute)
	require.NoError(t, err)
	found := false
	for _, c := range claimed {
		if c.ID == id {
			found = true
		}
	}
	require.True(t, found, "job %s was not claimed", id)
	require.NoError(t, repo.MarkProcessing(ctx, id, time.Minute))
}
