package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/domain"
)

const listPageSize = 500

// NewCRMCommand creates the `crm` command group.
func NewCRMCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crm",
		Short: "Talk to the CRM",
	}

	cmd.AddCommand(newCRMPingCommand(root))
	cmd.AddCommand(newCRMPushAccountCommand(root))
	cmd.AddCommand(newCRMPushDealCommand(root))
	cmd.AddCommand(newCRMPushDealsCommand(root))

	return cmd
}

func newCRMPingCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check CRM credentials by listing one account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.runtime(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := rt.CRM.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("crm ping failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newCRMPushAccountCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push-account <customer_id>",
		Short: "Create a CRM account from a local customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := root.runtime(cmd.Context())
			if err != nil {
				return err
			}
			customer, err := rt.Repo.FindCustomerByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("customer #%d: %w", id, err)
			}

			first, last := splitFullName(customer.FirstName, customer.LastName)
			payload := *customer
			payload.FirstName, payload.LastName = first, last

			resp, err := rt.CRM.CreateAccountFromCustomer(cmd.Context(), &payload)
			if err != nil {
				return fmt.Errorf("crm push failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newCRMPushDealCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push-deal <deal_id>",
		Short: "Push one deal (and its account) to the CRM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := root.runtime(cmd.Context())
			if err != nil {
				return err
			}
			deal, err := rt.Repo.FindDealByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("deal #%d: %w", id, err)
			}
			if deal.Customer == nil {
				return fmt.Errorf("deal #%d has no customer", id)
			}
			if deal.Manager == nil {
				return fmt.Errorf("deal #%d has no manager; run assign-managers first", id)
			}

			resp, err := app.NewBatchPusher(rt.CRM, rt.Logger).PushOne(cmd.Context(), deal)
			if err != nil {
				return fmt.Errorf("crm push failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

// pushDealsOptions defines flags for crm push-deals.
type pushDealsOptions struct {
	root *RootOptions

	ids     string
	all     bool
	chunk   int
	delayMs int
	pauseMs int
}

func (o *pushDealsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ids, "ids", "", "comma-separated deal ids to push")
	cmd.Flags().BoolVar(&o.all, "all", false, "push every deal")
	cmd.Flags().IntVar(&o.chunk, "chunk", app.DefaultBatchChunk, "deals per batch")
	cmd.Flags().IntVar(&o.delayMs, "delay", int(app.DefaultBatchItemDelay/time.Millisecond), "delay between deals in milliseconds")
	cmd.Flags().IntVar(&o.pauseMs, "pause", int(app.DefaultBatchChunkPause/time.Millisecond), "pause between batches in milliseconds")
}

func (o *pushDealsOptions) batchOptions(cmd *cobra.Command, configured app.BatchOptions) app.BatchOptions {
	opts := app.BatchOptions{
		ChunkSize:  max(1, o.chunk),
		ItemDelay:  time.Duration(max(0, o.delayMs)) * time.Millisecond,
		ChunkPause: time.Duration(max(0, o.pauseMs)) * time.Millisecond,
	}
	flags := cmd.Flags()
	if !flags.Changed("chunk") && configured.ChunkSize > 0 {
		opts.ChunkSize = configured.ChunkSize
	}
	if !flags.Changed("delay") {
		opts.ItemDelay = max(0, configured.ItemDelay)
	}
	if !flags.Changed("pause") {
		opts.ChunkPause = max(0, configured.ChunkPause)
	}
	return opts
}

// run the `crm push-deals` command.
func (o *pushDealsOptions) run(cmd *cobra.Command) error {
	if strings.TrimSpace(o.ids) == "" && !o.all {
		return errors.New("please provide --ids or --all")
	}

	ctx := cmd.Context()
	rt, err := o.root.runtime(ctx)
	if err != nil {
		return err
	}

	var deals []domain.Deal
	if strings.TrimSpace(o.ids) != "" {
		deals, err = rt.Repo.FindDealsByIDs(ctx, parseIDList(o.ids))
	} else {
		deals, err = loadAllDeals(ctx, rt)
	}
	if err != nil {
		return fmt.Errorf("failed to load deals: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(deals) == 0 {
		fmt.Fprintln(out, "No deals found for pushing.")
		return nil
	}

	opts := o.batchOptions(cmd, rt.Batch)
	fmt.Fprintf(out, "Found %d deal(s) to push. Chunk size: %d\n", len(deals), opts.ChunkSize)

	result, err := app.NewBatchPusher(rt.CRM, rt.Logger).PushBatch(ctx, deals, opts)
	fmt.Fprintf(out, "Finished. Success: %d, Failed: %d, Skipped: %d\n", result.Succeeded, result.Failed, result.Skipped)
	if err != nil {
		return err
	}
	if !result.OK() {
		return ErrPushFailures
	}
	return nil
}

func newCRMPushDealsCommand(root *RootOptions) *cobra.Command {
	o := &pushDealsOptions{root: root}

	cmd := &cobra.Command{
		Use:   "push-deals",
		Short: "Push deals to the CRM in throttled batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(cmd)

	return cmd
}

func loadAllDeals(ctx context.Context, rt *Runtime) ([]domain.Deal, error) {
	var (
		all     []domain.Deal
		afterID int64
	)
	for {
		page, err := rt.Repo.ListDeals(ctx, afterID, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
		afterID = page[len(page)-1].ID
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseIDList parses a comma-separated id list, dropping entries that are not
// positive integers.
func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if id, err := parseID(part); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// splitFullName fills a missing first or last name from a full name stored
// in the other field.
func splitFullName(first, last string) (string, string) {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first != "" && last != "" {
		return first, last
	}
	full := first
	if full == "" {
		full = last
	}
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return first, last
	}
	return parts[0], strings.Join(parts[1:], " ")
}
