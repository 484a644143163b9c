// Package connector fetches raw event payloads from property-management
// providers. A connector returns the complete feed mapping for a date window
// or a descriptive error, never partial data.
package connector

import (
	"context"
	"time"

	"lead-status-sync/internal/models"
)

// Connector is the provider contract consumed by the pipeline runner.
type Connector interface {
	// FetchRawData retrieves all feeds for the [from, to) window.
	FetchRawData(ctx context.Context, from, to time.Time) (models.RawFeeds, error)
}
