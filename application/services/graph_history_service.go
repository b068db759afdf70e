package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"knowgraph/application/ports"
	"knowgraph/domain/events"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
	apperrors "knowgraph/pkg/errors"
	"knowgraph/pkg/observability"
)

// SaveResult is returned by a successful save
type SaveResult struct {
	ID         string `json:"id"`
	NewVersion int    `json:"newVersion"`
}

// HistoryList is the version listing of one graph, newest first
type HistoryList struct {
	GraphID string                    `json:"graphId"`
	History []versioning.VersionEntry `json:"history"`
}

// DeleteResult is returned by a successful delete
type DeleteResult struct {
	ID               string `json:"id"`
	SnapshotsRemoved int    `json:"snapshotsRemoved"`
}

// GraphHistoryService saves graphs with a bounded, numbered history and
// serves the current graph, the history listing and individual snapshots.
// It is used by the command/query handlers and directly by the CLI.
type GraphHistoryService struct {
	repo       ports.GraphRepository
	versioning *versioning.VersioningService
	codec      ports.DocumentCodec
	publisher  ports.EventPublisher
	cache      ports.Cache
	metrics    *observability.Collector
	tracer     *observability.Tracer
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewGraphHistoryService creates a new graph history service. publisher,
// cache and metrics may be nil.
func NewGraphHistoryService(
	repo ports.GraphRepository,
	versioningSvc *versioning.VersioningService,
	codec ports.DocumentCodec,
	publisher ports.EventPublisher,
	cache ports.Cache,
	metrics *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *GraphHistoryService {
	if versioningSvc == nil {
		versioningSvc = versioning.NewVersioningService(versioning.DefaultRetentionPolicy())
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHistoryService{
		repo:       repo,
		versioning: versioningSvc,
		codec:      codec,
		publisher:  publisher,
		cache:      cache,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
}

// SaveWithHistory writes doc as the next snapshot of graphID and makes it
// the current graph. Unless override is set, doc.Metadata.Version must
// equal the latest snapshot version (0 for a graph with no history).
// When the history grows past the retention limit the oldest snapshot is
// removed in the same transaction.
func (s *GraphHistoryService) SaveWithHistory(ctx context.Context, graphID string, doc *graph.Document, override bool) (result *SaveResult, err error) {
	if graphID == "" || doc == nil {
		return nil, apperrors.NewValidationError("Missing id or graphData")
	}
	if err := doc.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.SaveWithHistory",
		attribute.String("graph.id", graphID),
		attribute.Bool("graph.override", override),
	)
	defer func() { observability.EndSpan(span, err) }()

	var (
		saved      *graph.Document
		checksum   string
		newVersion int
		pruned     = -1
		now        = s.now()
	)

	started := time.Now()
	txErr := s.repo.WithinTx(ctx, func(ctx context.Context, tx ports.GraphTx) error {
		current, err := tx.LatestVersion(ctx, graphID)
		if err != nil {
			return err
		}
		if err := s.versioning.CheckBaseVersion(graphID, doc.Metadata.Version, current, override); err != nil {
			return err
		}

		newVersion = s.versioning.NextVersion(current)
		saved = graph.NormalizeForSave(doc)
		saved.Metadata.Version = newVersion

		data, format, err := s.codec.Encode(saved)
		if err != nil {
			return err
		}
		checksum, err = graph.Checksum(saved)
		if err != nil {
			return err
		}

		if err := tx.InsertSnapshot(ctx, versioning.Snapshot{
			ID:            s.newID(),
			GraphID:       graphID,
			Version:       newVersion,
			FormatVersion: format,
			Checksum:      checksum,
			Data:          data,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		count, err := tx.CountSnapshots(ctx, graphID)
		if err != nil {
			return err
		}
		if s.versioning.Policy().ShouldPrune(count) {
			oldest, err := tx.DeleteOldestSnapshot(ctx, graphID)
			if err != nil {
				return err
			}
			pruned = oldest
		}

		return tx.UpsertCurrent(ctx, ports.CurrentRecord{
			ID:            graphID,
			Title:         saved.Metadata.Title,
			Description:   saved.Metadata.Description,
			CreatedBy:     saved.Metadata.CreatedBy,
			Version:       newVersion,
			FormatVersion: format,
			Data:          data,
			UpdatedAt:     now,
		})
	})
	s.observeStore("save_with_history", started, txErr)
	if txErr != nil {
		return nil, s.saveError(ctx, graphID, txErr)
	}

	s.inc(func(c *observability.Collector) { c.VersionsSaved.Inc() })
	published := []events.DomainEvent{
		events.NewGraphVersionCreated(graphID, newVersion, saved.Metadata.Title,
			len(saved.Nodes), len(saved.Edges), checksum, override, now),
	}
	if pruned >= 0 {
		s.inc(func(c *observability.Collector) { c.VersionsPruned.Inc() })
		s.clearCache(ctx)
		published = append(published, events.NewGraphHistoryPruned(graphID, newVersion, pruned, now))
	}
	s.publish(ctx, published)

	s.logger.Info("Graph saved with history",
		zap.String("graph_id", graphID),
		zap.Int("version", newVersion),
		zap.Bool("override", override),
		zap.Int("pruned_version", pruned),
	)

	return &SaveResult{ID: graphID, NewVersion: newVersion}, nil
}

// saveError maps a failed save transaction to the caller-facing error
func (s *GraphHistoryService) saveError(ctx context.Context, graphID string, err error) error {
	var conflict *versioning.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.inc(func(c *observability.Collector) { c.VersionConflicts.Inc() })
		s.logger.Info("Version conflict",
			zap.String("graph_id", graphID),
			zap.Int("base_version", conflict.BaseVersion),
			zap.Int("current_version", conflict.CurrentVersion),
		)
		return apperrors.NewVersionConflictError(conflict.CurrentVersion)

	case errors.Is(err, ports.ErrVersionConflict):
		// Another writer committed the same version first
		s.inc(func(c *observability.Collector) { c.VersionConflicts.Inc() })
		current := 0
		if entries, lerr := s.repo.ListHistory(ctx, graphID); lerr == nil && len(entries) > 0 {
			current = entries[0].Version
		}
		s.logger.Info("Concurrent save lost the race",
			zap.String("graph_id", graphID),
			zap.Int("current_version", current),
		)
		return apperrors.NewVersionConflictError(current)
	}
	return s.storeError("save graph with history", err)
}

// FetchCurrent returns the current document of a graph. Edges are reduced
// to id, source and target.
func (s *GraphHistoryService) FetchCurrent(ctx context.Context, graphID string) (doc *graph.Document, err error) {
	if graphID == "" {
		return nil, apperrors.NewValidationError("Missing id")
	}

	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.FetchCurrent", attribute.String("graph.id", graphID))
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	rec, err := s.repo.GetCurrent(ctx, graphID)
	s.observeStore("get_current", started, err)
	if err != nil {
		if errors.Is(err, ports.ErrGraphNotFound) {
			return nil, apperrors.NewNotFoundError("Graph")
		}
		return nil, s.storeError("fetch graph", err)
	}

	decoded, err := s.codec.Decode(rec.Data, rec.FormatVersion)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to decode stored graph").WithCause(err)
	}
	return graph.NormalizeForFetch(decoded), nil
}

// FetchHistoryList returns the versions of a graph, newest first. A graph
// with no snapshots is reported as not found.
func (s *GraphHistoryService) FetchHistoryList(ctx context.Context, graphID string) (list *HistoryList, err error) {
	if graphID == "" {
		return nil, apperrors.NewValidationError("Missing id")
	}

	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.FetchHistoryList", attribute.String("graph.id", graphID))
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	entries, err := s.repo.ListHistory(ctx, graphID)
	s.observeStore("list_history", started, err)
	if err != nil {
		return nil, s.storeError("fetch graph history", err)
	}
	if len(entries) == 0 {
		return nil, apperrors.NewNotFoundError("Graph history")
	}
	return &HistoryList{GraphID: graphID, History: entries}, nil
}

// FetchVersion returns one snapshot as it was saved
func (s *GraphHistoryService) FetchVersion(ctx context.Context, graphID string, version int) (doc *graph.Document, err error) {
	if graphID == "" {
		return nil, apperrors.NewValidationError("Missing id")
	}
	if version <= 0 {
		return nil, apperrors.NewValidationError("version must be a positive integer")
	}

	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.FetchVersion",
		attribute.String("graph.id", graphID),
		attribute.Int("graph.version", version),
	)
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	snap, err := s.repo.GetSnapshot(ctx, graphID, version)
	s.observeStore("get_snapshot", started, err)
	if err != nil {
		if errors.Is(err, ports.ErrVersionNotFound) {
			return nil, apperrors.NewNotFoundError("Graph version")
		}
		return nil, s.storeError("fetch graph version", err)
	}

	decoded, err := s.codec.Decode(snap.Data, snap.FormatVersion)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to decode stored graph").WithCause(err)
	}
	// Snapshots keep their full edges
	return graph.NormalizeForSave(decoded), nil
}

// ListGraphs returns a summary of every stored graph, most recently
// updated first
func (s *GraphHistoryService) ListGraphs(ctx context.Context) (summaries []graph.Summary, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.ListGraphs")
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	summaries, err = s.repo.List(ctx)
	s.observeStore("list_graphs", started, err)
	if err != nil {
		return nil, s.storeError("list graphs", err)
	}
	if summaries == nil {
		summaries = []graph.Summary{}
	}
	return summaries, nil
}

// DeleteGraph removes a graph and its whole history
func (s *GraphHistoryService) DeleteGraph(ctx context.Context, graphID string) (result *DeleteResult, err error) {
	if graphID == "" {
		return nil, apperrors.NewValidationError("Missing id")
	}

	ctx, span := s.tracer.StartSpan(ctx, "GraphHistoryService.DeleteGraph", attribute.String("graph.id", graphID))
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	removed, err := s.repo.Delete(ctx, graphID)
	s.observeStore("delete_graph", started, err)
	if err != nil {
		if errors.Is(err, ports.ErrGraphNotFound) {
			return nil, apperrors.NewNotFoundError("Graph")
		}
		return nil, s.storeError("delete graph", err)
	}

	s.inc(func(c *observability.Collector) { c.GraphsDeleted.Inc() })
	s.clearCache(ctx)
	s.publish(ctx, []events.DomainEvent{events.NewGraphDeleted(graphID, removed, s.now())})

	s.logger.Info("Graph deleted",
		zap.String("graph_id", graphID),
		zap.Int("snapshots_removed", removed),
	)
	return &DeleteResult{ID: graphID, SnapshotsRemoved: removed}, nil
}

// Ping checks that the store is reachable
func (s *GraphHistoryService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *GraphHistoryService) storeError(operation string, err error) error {
	if errors.Is(err, ports.ErrStoreUnavailable) {
		return apperrors.NewUnavailableError("graph store").WithCause(err)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewDatabaseError(operation, err)
}

// publish sends events after commit. Delivery failures never fail the
// request.
func (s *GraphHistoryService) publish(ctx context.Context, evts []events.DomainEvent) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, evts); err != nil {
		s.logger.Warn("Failed to publish graph events",
			zap.Error(err),
			zap.Int("count", len(evts)),
		)
	}
}

func (s *GraphHistoryService) clearCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("Failed to clear query cache", zap.Error(err))
	}
}

func (s *GraphHistoryService) observeStore(operation string, started time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStore(operation, started, err)
	}
}

func (s *GraphHistoryService) inc(f func(c *observability.Collector)) {
	if s.metrics != nil {
		f(s.metrics)
	}
}
