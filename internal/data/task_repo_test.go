package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
	"github.com/infernarium/zip-verifyer/internal/testutil"
)

func newTestTaskRepo(db *sql.DB, tp TimeProvider) *TaskRepo {
	return NewTaskRepo(db, TaskRepoConfig{
		MaxRetries:   3,
		TimeProvider: tp,
	})
}

func TestTaskRepo_InsertAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := newTestTaskRepo(db, nil)
	ctx := context.Background()
	id := testutil.ContentID([]byte("insert-and-get"))

	t.Run("insert creates a pending record", func(t *testing.T) {
		task, err := repo.Insert(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, id, task.ID)
		assert.Equal(t, model.TaskStatusPending, task.Status)
		assert.Zero(t, task.RetryCount)
		assert.Equal(t, 3, task.MaxRetries)
		assert.Nil(t, task.Result)
		assert.Nil(t, task.StartedAt)
	})

	t.Run("duplicate insert reports the conflict", func(t *testing.T) {
		_, err := repo.Insert(ctx, id)
		assert.ErrorIs(t, err, ErrTaskAlreadyExists)
	})

	t.Run("get returns the stored record", func(t *testing.T) {
		task, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, model.TaskStatusPending, task.Status)
	})

	t.Run("get unknown id reports not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, testutil.ContentID([]byte("never inserted")))
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("insert rejects malformed id", func(t *testing.T) {
		_, err := repo.Insert(ctx, "not-a-digest")
		require.Error(t, err)
	})
}

func TestTaskRepo_ReserveNext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := newTestTaskRepo(db, nil)
	ctx := context.Background()

	t.Run("empty queue reports no tasks", func(t *testing.T) {
		_, err := repo.ReserveNext(ctx, 30)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})

	t.Run("claims pending task under a lease", func(t *testing.T) {
		id := testutil.ContentID([]byte("reserve-me"))
		_, err := repo.Insert(ctx, id)
		require.NoError(t, err)

		task, err := repo.ReserveNext(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, model.TaskStatusInProgress, task.Status)
		require.NotNil(t, task.LeaseExpiresAt)
		require.NotNil(t, task.StartedAt)
		assert.True(t, task.LeaseExpiresAt.After(time.Now().Add(20*time.Second)))
	})

	t.Run("claimed task is not handed out again", func(t *testing.T) {
		_, err := repo.ReserveNext(ctx, 30)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})

	t.Run("oldest runnable task is claimed first", func(t *testing.T) {
		testutil.CleanupTestDB(t, db)

		first := testutil.ContentID([]byte("first"))
		second := testutil.ContentID([]byte("second"))
		_, err := repo.Insert(ctx, first)
		require.NoError(t, err)
		_, err = repo.Insert(ctx, second)
		require.NoError(t, err)

		task, err := repo.ReserveNext(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, first, task.ID)
	})
}

func TestTaskRepo_MarkSuccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := newTestTaskRepo(db, nil)
	ctx := context.Background()
	id := testutil.ContentID([]byte("mark-success"))

	_, err := repo.Insert(ctx, id)
	require.NoError(t, err)
	_, err = repo.ReserveNext(ctx, 30)
	require.NoError(t, err)

	report := &model.Report{
		OverallCoverage: 66.6,
		Bugs:            model.DefectCounts{Total: 5, Critical: 1, Major: 2, Minor: 2},
		CodeSmells:      model.DefectCounts{Total: 6, Major: 3, Minor: 3},
		Vulnerabilities: model.DefectCounts{Total: 7, Critical: 2, Major: 2, Minor: 3},
	}
	raw, err := model.MarshalReport(report)
	require.NoError(t, err)

	updated, err := repo.MarkSuccess(ctx, id, raw)
	require.NoError(t, err)
	assert.True(t, updated)

	task, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.Nil(t, task.LeaseExpiresAt)
	assert.True(t, task.Terminal())

	stored, err := model.UnmarshalReport(task.Result)
	require.NoError(t, err)
	assert.Equal(t, report, stored)

	t.Run("second mark is a no-op", func(t *testing.T) {
		updated, err := repo.MarkSuccess(ctx, id, raw)
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("success record is never reclaimed", func(t *testing.T) {
		_, err := repo.ReserveNext(ctx, 30)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})
}

func TestTaskRepo_MarkFailedAndRetry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := newTestTaskRepo(db, tp)
	ctx := context.Background()
	id := testutil.ContentID([]byte("fail-then-retry"))

	_, err := repo.Insert(ctx, id)
	require.NoError(t, err)
	_, err = repo.ReserveNext(ctx, 30)
	require.NoError(t, err)

	retryAt := tp.Now().Add(2 * time.Second)
	failed, err := repo.MarkFailed(ctx, id, "coverage backend unavailable", retryAt)
	require.NoError(t, err)
	assert.True(t, failed)

	t.Run("failed attempt is observable with retries remaining", func(t *testing.T) {
		task, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.Equal(t, 1, task.RetryCount)
		require.NotNil(t, task.LastError)
		assert.Equal(t, "coverage backend unavailable", *task.LastError)
		assert.Nil(t, task.CompletedAt)
		assert.False(t, task.Terminal())
	})

	t.Run("not reclaimable before its backoff elapses", func(t *testing.T) {
		_, err := repo.ReserveNext(ctx, 30)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})

	t.Run("reclaimable after the backoff elapses", func(t *testing.T) {
		tp.AddTime(3 * time.Second)

		task, err := repo.ReserveNext(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, model.TaskStatusInProgress, task.Status)
		assert.Equal(t, 1, task.RetryCount)
	})

	t.Run("exhausting the retry budget is terminal", func(t *testing.T) {
		for attempt := 2; attempt <= 3; attempt++ {
			retryAt := tp.Now().Add(time.Second)
			failed, err := repo.MarkFailed(ctx, id, "still broken", retryAt)
			require.NoError(t, err)
			require.True(t, failed)

			if attempt < 3 {
				tp.AddTime(2 * time.Second)
				_, err = repo.ReserveNext(ctx, 30)
				require.NoError(t, err)
			}
		}

		task, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.Equal(t, 3, task.RetryCount)
		assert.NotNil(t, task.CompletedAt)
		assert.True(t, task.Terminal())

		tp.AddTime(time.Hour)
		_, err = repo.ReserveNext(ctx, 30)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})
}

func TestTaskRepo_LeaseExpiryAndRequeue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := newTestTaskRepo(db, tp)
	ctx := context.Background()
	id := testutil.ContentID([]byte("lease-expiry"))

	_, err := repo.Insert(ctx, id)
	require.NoError(t, err)
	_, err = repo.ReserveNext(ctx, 10)
	require.NoError(t, err)

	t.Run("heartbeat extends the lease", func(t *testing.T) {
		extended, err := repo.Heartbeat(ctx, id, 60)
		require.NoError(t, err)
		assert.True(t, extended)
	})

	t.Run("heartbeat on an unclaimed task is a no-op", func(t *testing.T) {
		extended, err := repo.Heartbeat(ctx, testutil.ContentID([]byte("ghost")), 60)
		require.NoError(t, err)
		assert.False(t, extended)
	})

	t.Run("expired lease is reclaimed", func(t *testing.T) {
		tp.AddTime(2 * time.Minute)

		requeued, err := repo.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), requeued)

		task, err := repo.ReserveNext(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
	})

	t.Run("live lease is left alone", func(t *testing.T) {
		requeued, err := repo.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)
	})
}

func TestTaskRepo_ListPurgeStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := newTestTaskRepo(db, nil)
	ctx := context.Background()

	idA := testutil.ContentID([]byte("stats-a"))
	idB := testutil.ContentID([]byte("stats-b"))
	_, err := repo.Insert(ctx, idA)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, idB)
	require.NoError(t, err)
	_, err = repo.ReserveNext(ctx, 30)
	require.NoError(t, err)

	t.Run("list returns every record id", func(t *testing.T) {
		ids, err := repo.ListIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{idA, idB}, ids)
	})

	t.Run("stats counts per status", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.InProgress)
		assert.Zero(t, stats.Success)
		assert.Zero(t, stats.Failed)
	})

	t.Run("purge wipes everything", func(t *testing.T) {
		count, err := repo.PurgeAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		ids, err := repo.ListIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		again, err := repo.PurgeAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, again)
	})
}

func TestTaskRepo_InsertNotifiesWaiters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := newTestTaskRepo(db, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- repo.WaitForNotification(ctx)
	}()

	// Give the listener a moment to register before submitting.
	time.Sleep(200 * time.Millisecond)

	_, err := repo.Insert(ctx, testutil.ContentID([]byte("notify-me")))
	require.NoError(t, err)

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("notification never arrived")
	}
}
