package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

// CRM is the part of the CRM client the commands drive.
type CRM interface {
	Ping(ctx context.Context) (map[string]any, error)
	CreateAccountFromCustomer(ctx context.Context, customer *domain.Customer) (*crmclient.RecordResponse, error)
	PushDeal(ctx context.Context, deal *domain.Deal) (*crmclient.RecordResponse, error)
}

// Runtime carries the dependencies shared by every command.
type Runtime struct {
	Repo       store.Repository
	CRM        CRM
	Assignment domain.AssignmentConfig
	Logger     *slog.Logger

	// Batch supplies push-deals throttling for flags left unset. A zero
	// ChunkSize keeps the flag default; zero delays disable throttling.
	Batch app.BatchOptions
}

// Loader builds a Runtime. The returned func releases its resources.
type Loader func(ctx context.Context) (*Runtime, func(), error)

// RootOptions holds the lazily loaded runtime shared by subcommands.
type RootOptions struct {
	load    Loader
	rt      *Runtime
	release func()
}

// ErrPushFailures is returned when a batch push finished with failed deals.
var ErrPushFailures = errors.New("one or more deals failed to push")

// NewRootOptions returns options that load the runtime on first use. Callers
// must Close them once the command has returned, whatever its outcome.
func NewRootOptions(load Loader) *RootOptions {
	return &RootOptions{load: load}
}

// NewRootCommand creates the dealctl root command.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dealctl",
		Short:         "Operate the deal service",
		Long:          "Maintenance commands for manager assignment and CRM synchronisation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewAssignManagersCommand(opts))
	cmd.AddCommand(NewCRMCommand(opts))

	return cmd
}

func (o *RootOptions) runtime(ctx context.Context) (*Runtime, error) {
	if o.rt != nil {
		return o.rt, nil
	}
	rt, release, err := o.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	if rt.Logger == nil {
		rt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o.rt, o.release = rt, release
	return rt, nil
}

// Close releases the runtime if it was loaded.
func (o *RootOptions) Close() {
	if o.release != nil {
		o.release()
		o.release = nil
	}
	o.rt = nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
