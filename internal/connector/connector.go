// Package connector defines log sources and the registry they add
// themselves to.
package connector

import (
	"context"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Connector defines the interface all log source connectors must implement.
type Connector interface {
	// Stream sends raw logs as they are read until the source is exhausted
	// or ctx is cancelled. The channel is closed when streaming stops.
	Stream(ctx context.Context, cfg ConnectorConfig) (<-chan model.RawLog, error)

	// Query reads a batch of logs matching the given parameters.
	Query(ctx context.Context, cfg ConnectorConfig, params QueryParams) ([]model.RawLog, error)
}

// ConnectorConfig holds provider-specific settings.
type ConnectorConfig struct {
	Provider string
	Endpoint string // file path for the file connector
	Extra    map[string]string
}

// QueryParams filters Query results. Zero values disable a filter.
type QueryParams struct {
	Limit  int
	Filter string // case-insensitive substring match on the raw line
}
