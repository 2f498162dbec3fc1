// Package registry provides functionality for managing flow definitions.
package registry

import (
	"context"
	"time"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// FlowRegistry manages flow definitions. Only valid flows are stored.
type FlowRegistry interface {
	// Publish validates a flow and stores it, replacing any previous version
	Publish(ctx context.Context, flow models.Flow) (validation.Result, error)

	// Import parses a YAML or JSON definition and publishes it
	Import(ctx context.Context, content []byte) (models.Flow, validation.Result, error)

	// Get retrieves a flow by ID
	Get(ctx context.Context, id string) (models.Flow, error)

	// Validate re-validates a stored flow
	Validate(ctx context.Context, id string) (validation.Result, error)

	// List returns all flows
	List(ctx context.Context) ([]FlowInfo, error)

	// Search returns the flows matching filters
	Search(ctx context.Context, filters FlowSearchFilters) ([]FlowInfo, error)

	// Delete removes a flow
	Delete(ctx context.Context, id string) error
}

// FlowInfo contains metadata about a flow
type FlowInfo struct {
	ID          string    `json:"id"`
	BotID       string    `json:"bot_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	NodeCount   int       `json:"node_count"`
	EdgeCount   int       `json:"edge_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FlowSearchFilters defines the filters for searching flows
type FlowSearchFilters struct {
	// Filter by bot (exact match)
	BotID string `json:"bot_id,omitempty"`

	// Search by name (case-insensitive partial match)
	NameContains string `json:"name_contains,omitempty"`

	// Filter by update date range
	UpdatedAfter  *time.Time `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`

	// Pagination parameters
	Page     int `json:"page,omitempty"`      // 1-based page number
	PageSize int `json:"page_size,omitempty"` // Number of items per page
}

// FlowRegistryOptions contains options for creating a flow registry
type FlowRegistryOptions struct {
	// Loader parses definitions for Import; defaults to the YAML loader
	Loader interface {
		Parse(content []byte) (models.Flow, error)
	}

	Logger logging.Logger
}
