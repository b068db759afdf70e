package di

import (
	"go.uber.org/zap"

	"knowgraph/application/commands/bus"
	"knowgraph/application/ports"
	querybus "knowgraph/application/queries/bus"
	"knowgraph/application/services"
	"knowgraph/infrastructure/config"
	"knowgraph/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config         *config.Config
	Logger         *zap.Logger
	LogLevel       zap.AtomicLevel
	GraphRepo      ports.GraphRepository
	Publisher      ports.EventPublisher
	Cache          ports.Cache
	Metrics        *observability.Collector
	Tracer         *observability.Tracer
	HistoryService *services.GraphHistoryService
	CommandBus     *bus.CommandBus
	QueryBus       *querybus.QueryBus
}
