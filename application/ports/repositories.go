package ports

import (
	"context"
	"errors"
	"time"

	"knowgraph/domain/events"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
)

// Store errors. Adapters wrap these so callers can match with errors.Is.
var (
	ErrGraphNotFound   = errors.New("graph not found")
	ErrVersionNotFound = errors.New("graph version not found")
	// ErrVersionConflict means another writer committed the same
	// (graph_id, version) first. The caller may reload and retry.
	ErrVersionConflict = errors.New("graph version already exists")
	// ErrStoreUnavailable means the store is refusing calls, e.g. an open
	// circuit breaker
	ErrStoreUnavailable = errors.New("graph store unavailable")
)

// CurrentRecord is the mutable "current" row of a graph
type CurrentRecord struct {
	ID            string
	Title         string
	Description   string
	CreatedBy     string
	Version       int
	FormatVersion int
	Data          []byte
	UpdatedAt     time.Time
}

// GraphRepository defines the interface for graph and history persistence
// This is a port in hexagonal architecture - the domain doesn't know about the implementation
type GraphRepository interface {
	// WithinTx runs fn in a single store transaction. Any error returned by
	// fn rolls the transaction back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx GraphTx) error) error

	// GetCurrent retrieves the current row of a graph
	GetCurrent(ctx context.Context, graphID string) (*CurrentRecord, error)

	// ListHistory returns the snapshots of a graph, newest first
	ListHistory(ctx context.Context, graphID string) ([]versioning.VersionEntry, error)

	// GetSnapshot retrieves one snapshot
	GetSnapshot(ctx context.Context, graphID string, version int) (*versioning.Snapshot, error)

	// List returns a summary of every current graph
	List(ctx context.Context) ([]graph.Summary, error)

	// Delete removes the current row and every snapshot, returning the
	// number of snapshots removed
	Delete(ctx context.Context, graphID string) (int, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// GraphTx is the unit of work used by save-with-history
type GraphTx interface {
	// LatestVersion returns the highest snapshot version, 0 when none exist
	LatestVersion(ctx context.Context, graphID string) (int, error)

	// InsertSnapshot writes a new snapshot. A duplicate (graph_id, version)
	// fails with ErrVersionConflict.
	InsertSnapshot(ctx context.Context, snapshot versioning.Snapshot) error

	// CountSnapshots returns how many snapshots the graph has
	CountSnapshots(ctx context.Context, graphID string) (int, error)

	// DeleteOldestSnapshot removes the lowest version and returns it
	DeleteOldestSnapshot(ctx context.Context, graphID string) (int, error)

	// UpsertCurrent creates or overwrites the current row
	UpsertCurrent(ctx context.Context, record CurrentRecord) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from cache
	Clear(ctx context.Context) error
}

// DocumentCodec converts documents to and from stored blobs. Encode reports
// the format it wrote; Decode upgrades older formats.
type DocumentCodec interface {
	Encode(doc *graph.Document) ([]byte, int, error)
	Decode(data []byte, format int) (*graph.Document, error)
}
