package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tcmartin/chatflow/pkg/loader"
	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// Errors returned by the flow registry
var (
	ErrFlowNotFound = storage.ErrFlowNotFound
	ErrInvalidFlow  = errors.New("invalid flow")

	// ErrInvalidDefinition is wrapped by every Import error caused by the document itself
	ErrInvalidDefinition = loader.ErrInvalidDefinition
)

// InvalidFlowError is returned by Publish when validation reports errors.
// errors.Is(err, ErrInvalidFlow) holds for it.
type InvalidFlowError struct {
	Result validation.Result
}

func (e *InvalidFlowError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidFlow, strings.Join(e.Result.Errors, "; "))
}

func (e *InvalidFlowError) Unwrap() error {
	return ErrInvalidFlow
}

// FlowRegistryService implements the FlowRegistry interface
type FlowRegistryService struct {
	store  storage.GraphStore
	loader interface {
		Parse(content []byte) (models.Flow, error)
	}
	logger logging.Logger
}

// NewFlowRegistry creates a new flow registry service
func NewFlowRegistry(store storage.GraphStore, options FlowRegistryOptions) *FlowRegistryService {
	r := &FlowRegistryService{
		store:  store,
		loader: options.Loader,
		logger: options.Logger,
	}
	if r.loader == nil {
		r.loader = loader.NewYAMLLoader()
	}
	if r.logger == nil {
		r.logger = logging.NewNopLogger()
	}
	return r
}

// Publish validates a flow and stores it
func (r *FlowRegistryService) Publish(ctx context.Context, flow models.Flow) (validation.Result, error) {
	result := validation.Validate(flow)
	if !result.IsValid {
		r.logger.Info("Flow rejected",
			logging.F("flow_id", flow.ID),
			logging.F("errors", result.Errors),
		)
		return result, &InvalidFlowError{Result: result}
	}

	if err := r.store.SaveFlow(ctx, flow); err != nil {
		return result, fmt.Errorf("failed to save flow: %w", err)
	}

	r.logger.Info("Flow published",
		logging.F("flow_id", flow.ID),
		logging.F("nodes", len(flow.Nodes)),
		logging.F("edges", len(flow.Edges)),
		logging.F("warnings", len(result.Warnings)),
	)
	return result, nil
}

// Import parses a definition and publishes it
func (r *FlowRegistryService) Import(ctx context.Context, content []byte) (models.Flow, validation.Result, error) {
	flow, err := r.loader.Parse(content)
	if err != nil {
		if !errors.Is(err, ErrInvalidDefinition) {
			err = fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
		return models.Flow{}, validation.Result{}, err
	}
	result, err := r.Publish(ctx, flow)
	return flow, result, err
}

// Get retrieves a flow by ID
func (r *FlowRegistryService) Get(ctx context.Context, id string) (models.Flow, error) {
	flow, err := r.store.GetFlow(ctx, id)
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to get flow: %w", err)
	}
	return flow, nil
}

// Validate re-validates a stored flow
func (r *FlowRegistryService) Validate(ctx context.Context, id string) (validation.Result, error) {
	result, err := r.store.ValidateFlowStructure(ctx, id)
	if err != nil {
		return validation.Result{}, fmt.Errorf("failed to validate flow: %w", err)
	}
	return result, nil
}

// List returns all flows
func (r *FlowRegistryService) List(ctx context.Context) ([]FlowInfo, error) {
	return r.Search(ctx, FlowSearchFilters{})
}

// Search returns the flows matching filters in id order
func (r *FlowRegistryService) Search(ctx context.Context, filters FlowSearchFilters) ([]FlowInfo, error) {
	metadataList, err := r.store.ListFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	infos := make([]FlowInfo, 0, len(metadataList))
	for _, metadata := range metadataList {
		info := FlowInfo{
			ID:          metadata.ID,
			BotID:       metadata.BotID,
			Name:        metadata.Name,
			Description: metadata.Description,
			NodeCount:   metadata.NodeCount,
			EdgeCount:   metadata.EdgeCount,
			CreatedAt:   time.Unix(metadata.CreatedAt, 0).UTC(),
			UpdatedAt:   time.Unix(metadata.UpdatedAt, 0).UTC(),
		}
		if filters.matches(info) {
			infos = append(infos, info)
		}
	}
	return filters.paginate(infos), nil
}

func (f FlowSearchFilters) matches(info FlowInfo) bool {
	if f.BotID != "" && info.BotID != f.BotID {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(info.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.UpdatedAfter != nil && info.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && info.UpdatedAt.After(*f.UpdatedBefore) {
		return false
	}
	return true
}

func (f FlowSearchFilters) paginate(infos []FlowInfo) []FlowInfo {
	if f.PageSize <= 0 {
		return infos
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * f.PageSize
	if start >= len(infos) {
		return []FlowInfo{}
	}
	end := start + f.PageSize
	if end > len(infos) {
		end = len(infos)
	}
	return infos[start:end]
}

// Delete removes a flow
func (r *FlowRegistryService) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteFlow(ctx, id); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	r.logger.Info("Flow deleted", logging.F("flow_id", id))
	return nil
}
