package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
	"github.com/infernarium/zip-verifyer/internal/mocks"
)

// stubNotifier tracks subscription activity without a live listener.
type stubNotifier struct {
	subscribeCalls int
	stopCalled     bool
}

func (s *stubNotifier) Subscribe() (func(), <-chan struct{}) {
	s.subscribeCalls++
	ch := make(chan struct{}, 1)
	return func() {}, ch
}

func (s *stubNotifier) StopAll() {
	s.stopCalled = true
}

func newTaskService(t *testing.T, repo *mocks.MockTaskRepository, cache *mocks.MockCacheRepository, notifier *stubNotifier) *TaskService {
	t.Helper()
	svc, err := NewTaskService(TaskServiceOptions{
		Repo:         repo,
		Cache:        cache,
		DefaultLease: 30 * time.Second,
		Notifier:     notifier,
		Logger:       slog.Default(),
	})
	require.NoError(t, err)
	return svc
}

func expectSnapshot(t *testing.T, cache *mocks.MockCacheRepository, id string, status model.TaskStatus) *gomock.Call {
	t.Helper()
	return cache.EXPECT().Set(gomock.Any(), id, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, raw []byte, _ time.Duration) error {
			snapshot, err := model.DecodeStatusSnapshot(raw)
			require.NoError(t, err)
			assert.Equal(t, status, snapshot.Status)
			return nil
		})
}

func TestNewTaskService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockTaskRepository(ctrl)
	cache := mocks.NewMockCacheRepository(ctrl)

	_, err := NewTaskService(TaskServiceOptions{Cache: cache, DefaultLease: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TaskRepository is required")

	_, err = NewTaskService(TaskServiceOptions{Repo: repo, DefaultLease: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CacheRepository is required")

	_, err = NewTaskService(TaskServiceOptions{Repo: repo, Cache: cache})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DefaultLease must be positive")
}

func TestTaskService_ReserveNext(t *testing.T) {
	id := strings.Repeat("cd", 32)

	t.Run("claims a task and publishes its in-progress snapshot", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().ReserveNext(gomock.Any(), 10).Return(&model.Task{
			ID:     id,
			Status: model.TaskStatusInProgress,
		}, nil)
		expectSnapshot(t, cache, id, model.TaskStatusInProgress)

		task, err := svc.ReserveNext(context.Background(), 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
	})

	t.Run("zero lease falls back to the default", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().ReserveNext(gomock.Any(), 30).Return(&model.Task{ID: id}, nil)
		cache.EXPECT().Set(gomock.Any(), id, gomock.Any(), gomock.Any()).Return(nil)

		_, err := svc.ReserveNext(context.Background(), 0)
		require.NoError(t, err)
	})

	t.Run("empty queue passes through the sentinel", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(nil, model.ErrNoTasksAvailable)

		_, err := svc.ReserveNext(context.Background(), time.Minute)
		assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	})

	t.Run("snapshot push failure does not fail the claim", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(&model.Task{ID: id}, nil)
		cache.EXPECT().Set(gomock.Any(), id, gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

		task, err := svc.ReserveNext(context.Background(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
	})
}

func TestTaskService_Complete(t *testing.T) {
	id := strings.Repeat("ef", 32)

	t.Run("persists report and publishes success snapshot", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		report := testReport()
		repo.EXPECT().MarkSuccess(gomock.Any(), id, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, raw []byte) (bool, error) {
				stored, err := model.UnmarshalReport(raw)
				require.NoError(t, err)
				assert.Equal(t, report, stored)
				return true, nil
			})
		expectSnapshot(t, cache, id, model.TaskStatusSuccess)

		completed, err := svc.Complete(context.Background(), id, report)
		require.NoError(t, err)
		assert.True(t, completed)
	})

	t.Run("lost claim returns false without a snapshot push", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().MarkSuccess(gomock.Any(), id, gomock.Any()).Return(false, nil)

		completed, err := svc.Complete(context.Background(), id, testReport())
		require.NoError(t, err)
		assert.False(t, completed)
	})

	t.Run("invalid report never reaches the record store", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		bad := testReport()
		bad.OverallCoverage = 300

		_, err := svc.Complete(context.Background(), id, bad)
		require.Error(t, err)
	})
}

func TestTaskService_Fail(t *testing.T) {
	id := strings.Repeat("01", 32)
	retryAt := time.Now().Add(2 * time.Second)

	t.Run("records failure and publishes failed snapshot", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().MarkFailed(gomock.Any(), id, "coverage backend unavailable", retryAt).Return(true, nil)
		expectSnapshot(t, cache, id, model.TaskStatusFailed)

		failed, err := svc.Fail(context.Background(), id, "coverage backend unavailable", retryAt)
		require.NoError(t, err)
		assert.True(t, failed)
	})

	t.Run("requires an error message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		svc := newTaskService(t, mocks.NewMockTaskRepository(ctrl), mocks.NewMockCacheRepository(ctrl), &stubNotifier{})

		_, err := svc.Fail(context.Background(), id, "", retryAt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error message required")
	})

	t.Run("lost claim returns false", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		svc := newTaskService(t, repo, cache, &stubNotifier{})

		repo.EXPECT().MarkFailed(gomock.Any(), id, "boom", retryAt).Return(false, nil)

		failed, err := svc.Fail(context.Background(), id, "boom", retryAt)
		require.NoError(t, err)
		assert.False(t, failed)
	})
}

func TestTaskService_SubscriptionLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifier := &stubNotifier{}
	svc := newTaskService(t, mocks.NewMockTaskRepository(ctrl), mocks.NewMockCacheRepository(ctrl), notifier)

	unsub, ch := svc.Subscribe()
	require.NotNil(t, ch)
	unsub()
	assert.Equal(t, 1, notifier.subscribeCalls)

	svc.StopAllListeners()
	assert.True(t, notifier.stopCalled)
}
