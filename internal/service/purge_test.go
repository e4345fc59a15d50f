package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
	"github.com/infernarium/zip-verifyer/internal/mocks"
)

func TestNewPurgeService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, err := NewPurgeService(PurgeServiceOptions{Store: mocks.NewMockContentStore(ctrl)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TaskRepository is required")

	_, err = NewPurgeService(PurgeServiceOptions{Repo: mocks.NewMockTaskRepository(ctrl)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ContentStore is required")
}

func TestPurgeService_PurgeAll(t *testing.T) {
	idA := strings.Repeat("aa", 32)
	idB := strings.Repeat("bb", 32)

	t.Run("deletes blobs and snapshots then wipes records", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)

		svc, err := NewPurgeService(PurgeServiceOptions{
			Repo:   repo,
			Store:  store,
			Cache:  cache,
			Logger: slog.Default(),
		})
		require.NoError(t, err)

		repo.EXPECT().ListIDs(gomock.Any()).Return([]string{idA, idB}, nil)
		store.EXPECT().Delete(gomock.Any(), idA).Return(nil)
		store.EXPECT().Delete(gomock.Any(), idB).Return(nil)
		cache.EXPECT().Delete(gomock.Any(), idA).Return(true, nil)
		cache.EXPECT().Delete(gomock.Any(), idB).Return(false, nil)
		repo.EXPECT().PurgeAll(gomock.Any()).Return(int64(2), nil)

		count, err := svc.PurgeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("blob and cache delete failures do not stop the purge", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)

		svc, err := NewPurgeService(PurgeServiceOptions{
			Repo:   repo,
			Store:  store,
			Cache:  cache,
			Logger: slog.Default(),
		})
		require.NoError(t, err)

		repo.EXPECT().ListIDs(gomock.Any()).Return([]string{idA}, nil)
		store.EXPECT().Delete(gomock.Any(), idA).Return(errors.New("s3 down"))
		cache.EXPECT().Delete(gomock.Any(), idA).Return(false, errors.New("redis down"))
		repo.EXPECT().PurgeAll(gomock.Any()).Return(int64(1), nil)

		count, err := svc.PurgeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("empty system purges to zero", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)

		svc, err := NewPurgeService(PurgeServiceOptions{Repo: repo, Store: store})
		require.NoError(t, err)

		repo.EXPECT().ListIDs(gomock.Any()).Return(nil, nil)
		repo.EXPECT().PurgeAll(gomock.Any()).Return(int64(0), nil)

		count, err := svc.PurgeAll(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("list failure maps to record failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)

		svc, err := NewPurgeService(PurgeServiceOptions{Repo: repo, Store: store})
		require.NoError(t, err)

		repo.EXPECT().ListIDs(gomock.Any()).Return(nil, errors.New("db down"))

		_, err = svc.PurgeAll(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsRecordFailure(err))
	})

	t.Run("record wipe failure maps to record failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)

		svc, err := NewPurgeService(PurgeServiceOptions{Repo: repo, Store: store})
		require.NoError(t, err)

		repo.EXPECT().ListIDs(gomock.Any()).Return(nil, nil)
		repo.EXPECT().PurgeAll(gomock.Any()).Return(int64(0), errors.New("truncate failed"))

		_, err = svc.PurgeAll(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsRecordFailure(err))
	})
}
