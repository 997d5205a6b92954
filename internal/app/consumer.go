package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

const syncHandlerTimeout = 2 * time.Minute

// DealEventHandler pushes deals to the CRM when their manager is assigned.
type DealEventHandler struct {
	service *DealService
	repo    store.Repository
	logger  *slog.Logger
}

func NewDealEventHandler(service *DealService, repo store.Repository, logger *slog.Logger) *DealEventHandler {
	return &DealEventHandler{service: service, repo: repo, logger: logger}
}

// HandleManagerAssigned returns true when the message should be acked.
// Malformed messages and permanent failures are acked; transient failures
// are left for redelivery.
func (h *DealEventHandler) HandleManagerAssigned(body []byte) bool {
	var event domain.DealEvent
	if err := json.Unmarshal(body, &event); err != nil || event.DealID <= 0 {
		h.logger.Error("invalid deal event payload; dropping", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncHandlerTimeout)
	defer cancel()

	deal, err := h.repo.FindDealByID(ctx, event.DealID)
	if errors.Is(err, store.ErrDealNotFound) {
		h.logger.Warn("deal from event no longer exists", "deal_id", event.DealID)
		return true
	}
	if err != nil {
		h.logger.Error("failed to load deal for sync", "deal_id", event.DealID, "error", err)
		return false
	}
	if deal.Customer == nil || deal.Manager == nil {
		h.logger.Warn("deal is not ready for crm sync; skipping", "deal_id", deal.ID)
		return true
	}

	if _, err := h.service.SyncDeal(ctx, deal); err != nil {
		return !isTransientSyncError(err)
	}
	return true
}

func isTransientSyncError(err error) bool {
	if crmclient.IsRateLimitError(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *crmclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
