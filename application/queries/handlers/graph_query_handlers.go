package handlers

import (
	"context"
	"fmt"

	"knowgraph/application/queries"
	"knowgraph/application/queries/bus"
	"knowgraph/application/services"
	"knowgraph/domain/graph"
)

// GraphReader is the part of the history service the query handlers use
type GraphReader interface {
	FetchCurrent(ctx context.Context, graphID string) (*graph.Document, error)
	FetchHistoryList(ctx context.Context, graphID string) (*services.HistoryList, error)
	FetchVersion(ctx context.Context, graphID string, version int) (*graph.Document, error)
	ListGraphs(ctx context.Context) ([]graph.Summary, error)
}

// GetGraphHandler returns the current document
type GetGraphHandler struct{ reader GraphReader }

func (h GetGraphHandler) Handle(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetGraphQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected query type %T", q)
	}
	return h.reader.FetchCurrent(ctx, query.GraphID)
}

// GetGraphHistoryHandler returns the version listing
type GetGraphHistoryHandler struct{ reader GraphReader }

func (h GetGraphHistoryHandler) Handle(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetGraphHistoryQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected query type %T", q)
	}
	return h.reader.FetchHistoryList(ctx, query.GraphID)
}

// GetGraphVersionHandler returns one snapshot
type GetGraphVersionHandler struct{ reader GraphReader }

func (h GetGraphVersionHandler) Handle(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetGraphVersionQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected query type %T", q)
	}
	return h.reader.FetchVersion(ctx, query.GraphID, query.Version)
}

// ListGraphsHandler returns every graph summary
type ListGraphsHandler struct{ reader GraphReader }

func (h ListGraphsHandler) Handle(ctx context.Context, q bus.Query) (interface{}, error) {
	if _, ok := q.(queries.ListGraphsQuery); !ok {
		return nil, fmt.Errorf("unexpected query type %T", q)
	}
	return h.reader.ListGraphs(ctx)
}

// RegisterGraphQueries wires every graph query into b
func RegisterGraphQueries(b *bus.QueryBus, reader GraphReader) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandler
	}{
		{queries.GetGraphQuery{}, GetGraphHandler{reader}},
		{queries.GetGraphHistoryQuery{}, GetGraphHistoryHandler{reader}},
		{queries.GetGraphVersionQuery{}, GetGraphVersionHandler{reader}},
		{queries.ListGraphsQuery{}, ListGraphsHandler{reader}},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return fmt.Errorf("failed to register %T: %w", r.query, err)
		}
	}
	return nil
}
