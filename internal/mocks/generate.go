// Package mocks provides mock implementations for testing the zip-verifyer task system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockTaskRepository(ctrl)
//	mockRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(task, nil)
package mocks

// Generate mock for TaskRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=task_repository_mock.go github.com/infernarium/zip-verifyer/internal/core TaskRepository

// Generate mock for CacheRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/infernarium/zip-verifyer/internal/core CacheRepository

// Generate mock for ContentStore interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=content_store_mock.go github.com/infernarium/zip-verifyer/internal/core ContentStore
