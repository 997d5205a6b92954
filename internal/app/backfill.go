package app

import (
	"context"
	"log/slog"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
)

const DefaultBackfillChunk = 100

// BackfillOptions controls a Backfill run.
type BackfillOptions struct {
	ChunkSize int
	DryRun    bool
	Override  *domain.AssignmentOverride
}

// BackfillResult tallies a Backfill run. In dry-run mode Assigned counts the
// deals that would have been assigned.
type BackfillResult struct {
	Scanned  int `json:"scanned"`
	Assigned int `json:"assigned"`
	Failed   int `json:"failed"`
}

// Backfiller assigns managers to every deal that has none.
type Backfiller struct {
	repo     store.Repository
	assigner *Assigner
	logger   *slog.Logger
}

func NewBackfiller(repo store.Repository, assigner *Assigner, logger *slog.Logger) *Backfiller {
	return &Backfiller{repo: repo, assigner: assigner, logger: logger}
}

// Backfill pages through unowned deals by id. Per-deal failures are logged and
// counted; only a failure to list deals aborts the run.
func (b *Backfiller) Backfill(ctx context.Context, opts BackfillOptions) (BackfillResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultBackfillChunk
	}

	var (
		result  BackfillResult
		afterID int64
	)
	b.logger.Info("starting manager backfill", "chunk", opts.ChunkSize, "dry_run", opts.DryRun)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deals, err := b.repo.FindUnassignedDeals(ctx, afterID, opts.ChunkSize)
		if err != nil {
			return result, err
		}
		if len(deals) == 0 {
			break
		}

		for i := range deals {
			deal := &deals[i]
			afterID = deal.ID
			result.Scanned++

			if opts.DryRun {
				b.preview(ctx, deal, opts.Override, &result)
				continue
			}

			assigned, err := b.assigner.AssignForDeal(ctx, deal, opts.Override)
			if err != nil {
				result.Failed++
				b.logger.Error("failed to assign deal", "deal_id", deal.ID, "error", err)
				continue
			}
			result.Assigned++
			if assigned.ManagerID != nil {
				b.logger.Info("deal assigned", "deal_id", deal.ID, "manager_id", *assigned.ManagerID)
			}
		}

		if len(deals) < opts.ChunkSize {
			break
		}
	}

	b.logger.Info("manager backfill finished", "scanned", result.Scanned, "assigned", result.Assigned, "failed", result.Failed, "dry_run", opts.DryRun)
	return result, nil
}

func (b *Backfiller) preview(ctx context.Context, deal *domain.Deal, override *domain.AssignmentOverride, result *BackfillResult) {
	preview, err := b.assigner.PreviewAssignment(ctx, deal, override)
	if err != nil {
		b.logger.Warn("dry-run preview failed", "deal_id", deal.ID, "error", err)
		return
	}
	if preview.Manager == nil {
		b.logger.Warn("dry-run: deal would stay unassigned", "deal_id", deal.ID, "source", deal.Source, "reason", preview.Note)
		return
	}
	result.Assigned++
	b.logger.Info("dry-run: deal would be assigned", "deal_id", deal.ID, "source", deal.Source, "pool", preview.Pool.String(), "manager_id", preview.Manager.ID, "manager_email", preview.Manager.Email)
}
