package commands

import (
	"knowgraph/domain/graph"
	"knowgraph/pkg/utils"
)

// SaveGraphWithHistoryCommand saves a graph as its next numbered version
type SaveGraphWithHistoryCommand struct {
	GraphID  string          `json:"id" validate:"required"`
	Document *graph.Document `json:"graphData" validate:"required"`
	Override bool            `json:"override"`
}

// Validate checks the command's required fields
func (c SaveGraphWithHistoryCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// DeleteGraphCommand removes a graph and its whole history
type DeleteGraphCommand struct {
	GraphID string `json:"id" validate:"required"`
}

// Validate checks the command's required fields
func (c DeleteGraphCommand) Validate() error {
	return utils.ValidateStruct(c)
}
