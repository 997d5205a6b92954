/**
 * @description
 * Pushes deals to the CRM one at a time with deliberate pauses so a large
 * batch stays under the CRM's rate limits. A failing deal is logged and
 * counted; it never stops the rest of the batch.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

const (
	DefaultBatchChunk      = 20
	DefaultBatchItemDelay  = 250 * time.Millisecond
	DefaultBatchChunkPause = 1500 * time.Millisecond

	rateLimitRetryDelay = 1200 * time.Millisecond
)

// DealPusher pushes a single deal to the CRM.
type DealPusher interface {
	PushDeal(ctx context.Context, deal *domain.Deal) (*crmclient.RecordResponse, error)
}

// BatchOptions throttles PushBatch.
type BatchOptions struct {
	ChunkSize  int
	ItemDelay  time.Duration
	ChunkPause time.Duration
}

func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		ChunkSize:  DefaultBatchChunk,
		ItemDelay:  DefaultBatchItemDelay,
		ChunkPause: DefaultBatchChunkPause,
	}
}

// BatchResult tallies a PushBatch run. Skipped deals are neither successes
// nor failures.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// OK reports whether the run should be considered successful.
func (r BatchResult) OK() bool {
	return r.Failed == 0
}

// BatchPusher drives a DealPusher over single deals and batches.
type BatchPusher struct {
	pusher     DealPusher
	logger     *slog.Logger
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewBatchPusher(pusher DealPusher, logger *slog.Logger) *BatchPusher {
	return &BatchPusher{
		pusher:     pusher,
		logger:     logger,
		retryDelay: rateLimitRetryDelay,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PushOne pushes deal and retries exactly once after a short pause when the
// first failure looks like a rate limit.
func (b *BatchPusher) PushOne(ctx context.Context, deal *domain.Deal) (*crmclient.RecordResponse, error) {
	resp, err := b.pusher.PushDeal(ctx, deal)
	if err == nil || !crmclient.IsRateLimitError(err) {
		return resp, err
	}

	b.logger.Warn("crm rate limited; retrying once", "deal_id", deal.ID, "delay", b.retryDelay, "error", err)
	if err := b.sleep(ctx, b.retryDelay); err != nil {
		return nil, err
	}
	return b.pusher.PushDeal(ctx, deal)
}

// PushBatch pushes deals in chunks. Deals without a customer or manager are
// skipped. The returned error is non-nil only when ctx is cancelled.
func (b *BatchPusher) PushBatch(ctx context.Context, deals []domain.Deal, opts BatchOptions) (BatchResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultBatchChunk
	}

	var result BatchResult
	b.logger.Info("starting crm batch push", "deals", len(deals), "chunk", opts.ChunkSize)

	for start, batch := 0, 1; start < len(deals); start, batch = start+opts.ChunkSize, batch+1 {
		end := min(start+opts.ChunkSize, len(deals))
		b.logger.Info("processing batch", "batch", batch, "size", end-start)

		for i := start; i < end; i++ {
			deal := &deals[i]

			if deal.Customer == nil {
				result.Skipped++
				b.logger.Warn("skipping deal without customer", "deal_id", deal.ID)
				continue
			}
			if deal.Manager == nil {
				result.Skipped++
				b.logger.Warn("skipping deal without manager", "deal_id", deal.ID)
				continue
			}

			if _, err := b.PushOne(ctx, deal); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failed++
				b.logger.Error("failed to push deal", "deal_id", deal.ID, "error", err)
			} else {
				result.Succeeded++
				b.logger.Info("deal pushed", "deal_id", deal.ID)
			}

			if err := b.sleep(ctx, opts.ItemDelay); err != nil {
				return result, err
			}
		}

		if err := b.sleep(ctx, opts.ChunkPause); err != nil {
			return result, err
		}
	}

	b.logger.Info("crm batch push finished", "succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}
