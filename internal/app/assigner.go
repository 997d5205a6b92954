/**
 * @description
 * The assignment engine. It resolves a deal's eligible manager pool from its
 * source and hands the pool to the repository, which picks the least loaded
 * manager and records the ownership in one transaction.
 *
 * @dependencies
 * - internal/store: Atomic assignment and manager lookups.
 * - internal/domain: Pool classes, assignment configuration and selection.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
)

var ErrNoEligibleManager = errors.New("no eligible manager for deal")

// Assigner routes unowned deals to managers.
type Assigner struct {
	repo   store.Repository
	config domain.AssignmentConfig
	logger *slog.Logger
}

// NewAssigner creates an Assigner using cfg as the process-level pools.
func NewAssigner(repo store.Repository, cfg domain.AssignmentConfig, logger *slog.Logger) *Assigner {
	return &Assigner{repo: repo, config: cfg, logger: logger}
}

// AssignForDeal gives deal an owner and returns the reloaded deal. Deals that
// already have a manager are returned unchanged.
func (a *Assigner) AssignForDeal(ctx context.Context, deal *domain.Deal, override *domain.AssignmentOverride) (*domain.Deal, error) {
	if deal.IsAssigned() {
		return deal, nil
	}

	class := domain.PoolClassForSource(deal.Source)
	pool := a.config.Merge(override).PoolEmails(class)

	manager, err := a.repo.AssignManagerAtomic(ctx, deal.ID, pool)
	switch {
	case errors.Is(err, store.ErrNoEligibleManager):
		return nil, fmt.Errorf("%w: deal #%d source %q pool %s", ErrNoEligibleManager, deal.ID, deal.Source, class)
	case errors.Is(err, store.ErrDealAlreadyAssigned):
		// Someone else won the race; report their assignment.
		a.logger.Info("deal was assigned concurrently", "deal_id", deal.ID)
		return a.repo.FindDealByID(ctx, deal.ID)
	case err != nil:
		return nil, fmt.Errorf("assign manager to deal #%d: %w", deal.ID, err)
	}

	a.logger.Info("manager assigned", "deal_id", deal.ID, "manager_id", manager.ID, "pool", class.String(), "deals_count", manager.DealsCount)

	assigned, err := a.repo.FindDealByID(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("reload deal #%d: %w", deal.ID, err)
	}
	return assigned, nil
}

// AssignmentPreview describes what AssignForDeal would do without doing it.
type AssignmentPreview struct {
	DealID  int64
	Source  string
	Pool    domain.PoolClass
	Manager *domain.Manager
	// Note explains why Manager is nil.
	Note string
}

// PreviewAssignment picks the manager AssignForDeal would select right now.
// It never writes and reports business-rule conflicts through Note.
func (a *Assigner) PreviewAssignment(ctx context.Context, deal *domain.Deal, override *domain.AssignmentOverride) (AssignmentPreview, error) {
	class := domain.PoolClassForSource(deal.Source)
	preview := AssignmentPreview{DealID: deal.ID, Source: deal.Source, Pool: class}

	if deal.IsAssigned() {
		preview.Note = "already assigned"
		return preview, nil
	}

	managers, err := a.repo.FindManagersByEmails(ctx, a.config.Merge(override).PoolEmails(class))
	if err != nil {
		return preview, fmt.Errorf("load pool for deal #%d: %w", deal.ID, err)
	}
	selected, ok := domain.SelectLeastLoaded(managers)
	if !ok {
		preview.Note = "no eligible manager"
		return preview, nil
	}
	preview.Manager = &selected
	return preview, nil
}
