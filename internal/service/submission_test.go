package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/infernarium/zip-verifyer/internal/data"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
	apperrors "github.com/infernarium/zip-verifyer/internal/errors"
	"github.com/infernarium/zip-verifyer/internal/mocks"
	"github.com/infernarium/zip-verifyer/internal/testutil"
)

func newSubmissionService(t *testing.T, repo *mocks.MockTaskRepository, store *mocks.MockContentStore) *SubmissionService {
	t.Helper()
	svc, err := NewSubmissionService(SubmissionServiceOptions{
		Repo:   repo,
		Store:  store,
		Logger: slog.Default(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewSubmissionService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, err := NewSubmissionService(SubmissionServiceOptions{Store: mocks.NewMockContentStore(ctrl)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TaskRepository is required")

	_, err = NewSubmissionService(SubmissionServiceOptions{Repo: mocks.NewMockTaskRepository(ctrl)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ContentStore is required")
}

func TestSubmissionService_Submit(t *testing.T) {
	content := []byte("artifact bytes")
	wantID := testutil.ContentID(content)

	t.Run("stores blob and creates pending record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, nil)
		store.EXPECT().Put(gomock.Any(), wantID, content).Return(nil)
		repo.EXPECT().Insert(gomock.Any(), wantID).Return(&model.Task{ID: wantID, Status: model.TaskStatusPending}, nil)

		id, err := svc.Submit(context.Background(), "project.zip", bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, wantID, id)
	})

	t.Run("id depends only on content, not filename", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, nil)
		store.EXPECT().Put(gomock.Any(), wantID, content).Return(nil)
		repo.EXPECT().Insert(gomock.Any(), wantID).Return(&model.Task{ID: wantID}, nil)

		id, err := svc.Submit(context.Background(), "completely-different-name.ZIP", bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, wantID, id)
	})

	t.Run("rejects non-zip filename", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		svc := newSubmissionService(t, mocks.NewMockTaskRepository(ctrl), mocks.NewMockContentStore(ctrl))

		_, err := svc.Submit(context.Background(), "project.tar.gz", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidInput(err))
	})

	t.Run("rejects unreadable artifact", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		svc := newSubmissionService(t, mocks.NewMockTaskRepository(ctrl), mocks.NewMockContentStore(ctrl))

		_, err := svc.Submit(context.Background(), "broken.zip", brokenReader{})
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidInput(err))
	})

	t.Run("duplicate blob short-circuits before storing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(true, nil)

		_, err := svc.Submit(context.Background(), "again.zip", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicate(err))
	})

	t.Run("existence check failure is a storage failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, errors.New("s3 down"))

		_, err := svc.Submit(context.Background(), "a.zip", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsStorageFailure(err))
	})

	t.Run("blob store failure surfaces as storage failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, nil)
		store.EXPECT().Put(gomock.Any(), wantID, content).Return(errors.New("bucket gone"))

		_, err := svc.Submit(context.Background(), "a.zip", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsStorageFailure(err))
	})

	t.Run("insert race deletes the blob and reports duplicate", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, nil)
		store.EXPECT().Put(gomock.Any(), wantID, content).Return(nil)
		repo.EXPECT().Insert(gomock.Any(), wantID).Return(nil, data.ErrTaskAlreadyExists)
		store.EXPECT().Delete(gomock.Any(), wantID).Return(nil)

		_, err := svc.Submit(context.Background(), "race.zip", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicate(err))
	})

	t.Run("insert failure deletes the blob and reports record failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockTaskRepository(ctrl)
		store := mocks.NewMockContentStore(ctrl)
		svc := newSubmissionService(t, repo, store)

		store.EXPECT().Exists(gomock.Any(), wantID).Return(false, nil)
		store.EXPECT().Put(gomock.Any(), wantID, content).Return(nil)
		repo.EXPECT().Insert(gomock.Any(), wantID).Return(nil, errors.New("db down"))
		store.EXPECT().Delete(gomock.Any(), wantID).Return(errors.New("delete also failed"))

		_, err := svc.Submit(context.Background(), "a.zip", bytes.NewReader(content))
		require.Error(t, err)
		assert.True(t, apperrors.IsRecordFailure(err))
	})
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("stream interrupted")
}

func TestSubmissionService_Submit_EmptyFilename(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := newSubmissionService(t, mocks.NewMockTaskRepository(ctrl), mocks.NewMockContentStore(ctrl))

	_, err := svc.Submit(context.Background(), "", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
}
