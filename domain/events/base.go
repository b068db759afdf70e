package events

import (
	"time"
)

// SourceKnowgraph is the EventBridge source of every event this service emits
const SourceKnowgraph = "knowgraph.history"

// Event types
const (
	TypeGraphVersionCreated = "graph.version_created"
	TypeGraphHistoryPruned  = "graph.history_pruned"
	TypeGraphDeleted        = "graph.deleted"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// GraphVersionCreated is raised after a snapshot has been committed
type GraphVersionCreated struct {
	BaseEvent
	GraphID   string `json:"graph_id"`
	Title     string `json:"title"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	Checksum  string `json:"checksum"`
	Override  bool   `json:"override"`
}

// NewGraphVersionCreated creates a GraphVersionCreated event
func NewGraphVersionCreated(graphID string, version int, title string, nodeCount, edgeCount int, checksum string, override bool, timestamp time.Time) GraphVersionCreated {
	return GraphVersionCreated{
		BaseEvent: BaseEvent{
			AggregateID: graphID,
			EventType:   TypeGraphVersionCreated,
			Timestamp:   timestamp,
			Version:     version,
		},
		GraphID:   graphID,
		Title:     title,
		NodeCount: nodeCount,
		EdgeCount: edgeCount,
		Checksum:  checksum,
		Override:  override,
	}
}

// GraphHistoryPruned is raised when retention evicted the oldest snapshot
type GraphHistoryPruned struct {
	BaseEvent
	GraphID       string `json:"graph_id"`
	PrunedVersion int    `json:"pruned_version"`
}

// NewGraphHistoryPruned creates a GraphHistoryPruned event
func NewGraphHistoryPruned(graphID string, currentVersion, prunedVersion int, timestamp time.Time) GraphHistoryPruned {
	return GraphHistoryPruned{
		BaseEvent: BaseEvent{
			AggregateID: graphID,
			EventType:   TypeGraphHistoryPruned,
			Timestamp:   timestamp,
			Version:     currentVersion,
		},
		GraphID:       graphID,
		PrunedVersion: prunedVersion,
	}
}

// GraphDeleted is raised when a graph and its history are removed
type GraphDeleted struct {
	BaseEvent
	GraphID          string `json:"graph_id"`
	SnapshotsRemoved int    `json:"snapshots_removed"`
}

// NewGraphDeleted creates a GraphDeleted event
func NewGraphDeleted(graphID string, snapshotsRemoved int, timestamp time.Time) GraphDeleted {
	return GraphDeleted{
		BaseEvent: BaseEvent{
			AggregateID: graphID,
			EventType:   TypeGraphDeleted,
			Timestamp:   timestamp,
			Version:     1,
		},
		GraphID:          graphID,
		SnapshotsRemoved: snapshotsRemoved,
	}
}
