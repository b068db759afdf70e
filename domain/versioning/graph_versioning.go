package versioning

import (
	"fmt"
	"time"
)

// DefaultMaxVersions is the number of snapshots kept per graph
const DefaultMaxVersions = 20

// Snapshot is an immutable numbered copy of a graph document
type Snapshot struct {
	ID            string    `json:"id"`
	GraphID       string    `json:"graph_id"`
	Version       int       `json:"version"`
	FormatVersion int       `json:"format_version"`
	Checksum      string    `json:"checksum,omitempty"`
	Data          []byte    `json:"-"`
	CreatedAt     time.Time `json:"timestamp"`
}

// VersionEntry is one line of a graph's history listing
type VersionEntry struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum,omitempty"`
}

// ConflictError reports that the caller edited a stale base version
type ConflictError struct {
	GraphID        string
	CurrentVersion int
	BaseVersion    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on graph %s: base version %d, current version %d",
		e.GraphID, e.BaseVersion, e.CurrentVersion)
}

// RetentionPolicy bounds how many snapshots a graph keeps
type RetentionPolicy struct {
	MaxVersions int `json:"max_versions"`
}

// DefaultRetentionPolicy returns the default retention policy
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{MaxVersions: DefaultMaxVersions}
}

// ShouldPrune reports whether the oldest snapshot must go after an insert.
// Only one snapshot is evicted per save.
func (p RetentionPolicy) ShouldPrune(count int) bool {
	return p.MaxVersions > 0 && count > p.MaxVersions
}

// VersioningService decides version numbers for new snapshots
type VersioningService struct {
	policy RetentionPolicy
}

// NewVersioningService creates a new versioning service
func NewVersioningService(policy RetentionPolicy) *VersioningService {
	if policy.MaxVersions <= 0 {
		policy = DefaultRetentionPolicy()
	}
	return &VersioningService{policy: policy}
}

// Policy returns the retention policy in force
func (s *VersioningService) Policy() RetentionPolicy {
	return s.policy
}

// NextVersion returns the version assigned to the next snapshot
func (s *VersioningService) NextVersion(current int) int {
	if current < 0 {
		current = 0
	}
	return current + 1
}

// CheckBaseVersion enforces optimistic concurrency unless override is set.
// A graph with no history has current version 0.
func (s *VersioningService) CheckBaseVersion(graphID string, base, current int, override bool) error {
	if override {
		return nil
	}
	if base != current {
		return &ConflictError{
			GraphID:        graphID,
			CurrentVersion: current,
			BaseVersion:    base,
		}
	}
	return nil
}
