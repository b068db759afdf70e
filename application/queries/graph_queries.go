package queries

import (
	"fmt"

	"knowgraph/pkg/utils"
)

// GetGraphQuery reads the current document of a graph
type GetGraphQuery struct {
	GraphID string `json:"id" validate:"required"`
}

func (q GetGraphQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// GetGraphHistoryQuery lists the versions of a graph
type GetGraphHistoryQuery struct {
	GraphID string `json:"id" validate:"required"`
}

func (q GetGraphHistoryQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// GetGraphVersionQuery reads one snapshot. Snapshots never change once
// written, so results are cacheable.
type GetGraphVersionQuery struct {
	GraphID string `json:"id" validate:"required"`
	Version int    `json:"version" validate:"gt=0"`
}

func (q GetGraphVersionQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// CacheKey identifies the snapshot
func (q GetGraphVersionQuery) CacheKey() string {
	return fmt.Sprintf("%s@%d", q.GraphID, q.Version)
}

// ListGraphsQuery lists every stored graph
type ListGraphsQuery struct{}

func (q ListGraphsQuery) Validate() error { return nil }
