package model

import (
	"encoding/json"
	"fmt"
)

// SnapshotVersion is the current cache snapshot schema version. The cache and
// the record store cross the enum-to-string boundary through this one codec;
// bumping the version invalidates stale snapshots instead of letting the two
// representations drift silently.
const SnapshotVersion = 1

// StatusSnapshot is the serialized form of a task's observable state stored in
// the cache. Result is present iff Status is SUCCESS.
type StatusSnapshot struct {
	Version int        `json:"v"`
	Status  TaskStatus `json:"status"`
	Result  *Report    `json:"result,omitempty"`
}

// NewStatusSnapshot builds a snapshot for the given status and optional report.
func NewStatusSnapshot(status TaskStatus, result *Report) StatusSnapshot {
	return StatusSnapshot{
		Version: SnapshotVersion,
		Status:  status,
		Result:  result,
	}
}

// Encode serializes the snapshot for cache storage.
func (s StatusSnapshot) Encode() ([]byte, error) {
	if !s.Status.Valid() {
		return nil, fmt.Errorf("encode snapshot: invalid status %q", s.Status)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// DecodeStatusSnapshot parses a cached snapshot, enforcing the serialization
// contract: a version mismatch, an unknown status, or a result that violates
// report bounds all fail decoding.
func DecodeStatusSnapshot(raw []byte) (StatusSnapshot, error) {
	var s StatusSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return StatusSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return StatusSnapshot{}, fmt.Errorf("decode snapshot: unsupported version %d", s.Version)
	}
	if !s.Status.Valid() {
		return StatusSnapshot{}, fmt.Errorf("decode snapshot: invalid status %q", s.Status)
	}
	if s.Result != nil {
		if s.Status != TaskStatusSuccess {
			return StatusSnapshot{}, fmt.Errorf("decode snapshot: result present for status %q", s.Status)
		}
		if err := s.Result.Validate(); err != nil {
			return StatusSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	if s.Result == nil && s.Status == TaskStatusSuccess {
		return StatusSnapshot{}, fmt.Errorf("decode snapshot: missing result for status %q", s.Status)
	}
	return s, nil
}
