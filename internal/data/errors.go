package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrTaskNotFound is returned when a task record does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskAlreadyExists is returned when inserting a task whose id is
	// already recorded. This is the dedup guarantee surfacing as an error.
	ErrTaskAlreadyExists = errors.New("task already exists")
	// ErrBlobNotFound is returned when a content store object is missing.
	ErrBlobNotFound = errors.New("blob not found")
)
