package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"knowgraph/application/commands"
	"knowgraph/application/commands/bus"
	"knowgraph/application/services"
	"knowgraph/domain/graph"
)

// GraphWriter is the part of the history service the command handlers use
type GraphWriter interface {
	SaveWithHistory(ctx context.Context, graphID string, doc *graph.Document, override bool) (*services.SaveResult, error)
	DeleteGraph(ctx context.Context, graphID string) (*services.DeleteResult, error)
}

// SaveGraphWithHistoryHandler handles SaveGraphWithHistoryCommand
type SaveGraphWithHistoryHandler struct {
	writer GraphWriter
	logger *zap.Logger
}

// NewSaveGraphWithHistoryHandler creates a new handler instance
func NewSaveGraphWithHistoryHandler(writer GraphWriter, logger *zap.Logger) *SaveGraphWithHistoryHandler {
	return &SaveGraphWithHistoryHandler{writer: writer, logger: logger}
}

// Handle returns a *services.SaveResult
func (h *SaveGraphWithHistoryHandler) Handle(ctx context.Context, cmd bus.Command) (interface{}, error) {
	c, ok := cmd.(commands.SaveGraphWithHistoryCommand)
	if !ok {
		return nil, fmt.Errorf("unexpected command type %T", cmd)
	}

	h.logger.Debug("Saving graph with history",
		zap.String("graph_id", c.GraphID),
		zap.Int("base_version", c.Document.Metadata.Version),
		zap.Int("nodes", len(c.Document.Nodes)),
		zap.Int("edges", len(c.Document.Edges)),
	)
	return h.writer.SaveWithHistory(ctx, c.GraphID, c.Document, c.Override)
}

// DeleteGraphHandler handles DeleteGraphCommand
type DeleteGraphHandler struct {
	writer GraphWriter
}

// NewDeleteGraphHandler creates a new handler instance
func NewDeleteGraphHandler(writer GraphWriter) *DeleteGraphHandler {
	return &DeleteGraphHandler{writer: writer}
}

// Handle returns a *services.DeleteResult
func (h *DeleteGraphHandler) Handle(ctx context.Context, cmd bus.Command) (interface{}, error) {
	c, ok := cmd.(commands.DeleteGraphCommand)
	if !ok {
		return nil, fmt.Errorf("unexpected command type %T", cmd)
	}
	return h.writer.DeleteGraph(ctx, c.GraphID)
}

// RegisterGraphCommands wires every graph command into b
func RegisterGraphCommands(b *bus.CommandBus, writer GraphWriter, logger *zap.Logger) error {
	if err := b.Register(commands.SaveGraphWithHistoryCommand{}, NewSaveGraphWithHistoryHandler(writer, logger)); err != nil {
		return err
	}
	return b.Register(commands.DeleteGraphCommand{}, NewDeleteGraphHandler(writer))
}
