package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/domain"
)

// assignManagersOptions defines flags for assign-managers.
type assignManagersOptions struct {
	root *RootOptions

	chunk        int
	dryRun       bool
	source1Email string
	source2Pool  string
	defaultPool  string
}

func (o *assignManagersOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.chunk, "chunk", app.DefaultBackfillChunk, "deals loaded per page")
	cmd.Flags().BoolVar(&o.dryRun, "dry", false, "preview the selection without writing")
	cmd.Flags().StringVar(&o.source1Email, "source1-email", "", "override the Source 1 manager email")
	cmd.Flags().StringVar(&o.source2Pool, "source2-pool", "", "override the Source 2 pool (comma-separated emails)")
	cmd.Flags().StringVar(&o.defaultPool, "default-pool", "", "override the default pool (comma-separated emails)")
}

func (o *assignManagersOptions) override() *domain.AssignmentOverride {
	override := &domain.AssignmentOverride{
		Source1Email:      o.source1Email,
		Source2PoolEmails: domain.SplitEmailList(o.source2Pool),
		DefaultPoolEmails: domain.SplitEmailList(o.defaultPool),
	}
	if override.IsEmpty() {
		return nil
	}
	return override
}

// run the `assign-managers` command.
func (o *assignManagersOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	rt, err := o.root.runtime(ctx)
	if err != nil {
		return err
	}

	assigner := app.NewAssigner(rt.Repo, rt.Assignment, rt.Logger)
	backfiller := app.NewBackfiller(rt.Repo, assigner, rt.Logger)

	result, err := backfiller.Backfill(ctx, app.BackfillOptions{
		ChunkSize: o.chunk,
		DryRun:    o.dryRun,
		Override:  o.override(),
	})
	if err != nil {
		return err
	}

	verb := "assigned"
	if o.dryRun {
		verb = "would assign"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d deal(s), %s %d, failed %d\n", result.Scanned, verb, result.Assigned, result.Failed)
	return nil
}

// NewAssignManagersCommand creates the `assign-managers` command.
func NewAssignManagersCommand(root *RootOptions) *cobra.Command {
	o := &assignManagersOptions{root: root}

	cmd := &cobra.Command{
		Use:   "assign-managers",
		Short: "Assign managers to deals that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(cmd)

	return cmd
}
