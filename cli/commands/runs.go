package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/perclft/sshqpe/config"
	"github.com/perclft/sshqpe/decoder"
	"github.com/perclft/sshqpe/services/estimator"
	"github.com/perclft/sshqpe/services/registry"
)

// runStore is the run registry, reached either directly through the
// configured database or through an estimator service.
type runStore interface {
	get(ctx context.Context, id string) (*registry.RunRecord, error)
	list(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error)
	delete(ctx context.Context, id string) error
	close() error
}

type localRuns struct{ r *registry.Registry }

func (l localRuns) get(ctx context.Context, id string) (*registry.RunRecord, error) {
	return l.r.Get(ctx, id)
}

func (l localRuns) list(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error) {
	return l.r.List(ctx, opts)
}

func (l localRuns) delete(ctx context.Context, id string) error {
	return l.r.Delete(ctx, id)
}

func (l localRuns) close() error { return l.r.Close() }

type remoteRuns struct{ c *estimator.Client }

func (r remoteRuns) get(ctx context.Context, id string) (*registry.RunRecord, error) {
	resp, err := r.c.GetRun(ctx, &estimator.GetRunRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Run, nil
}

func (r remoteRuns) list(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error) {
	resp, err := r.c.ListRuns(ctx, &estimator.ListRunsRequest{
		UnitCells: opts.UnitCells,
		Page:      opts.Page,
		PageSize:  opts.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (r remoteRuns) delete(ctx context.Context, id string) error {
	_, err := r.c.DeleteRun(ctx, &estimator.DeleteRunRequest{ID: id})
	return err
}

func (r remoteRuns) close() error { return r.c.Close() }

func openRuns(ctx context.Context, server string, cfg config.Config) (runStore, error) {
	if server != "" {
		c, err := estimator.Dial(server)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "connect", err)
		}
		return remoteRuns{c}, nil
	}
	db := cfg.Server.Database
	if db.Driver == "" {
		return nil, NewExitError(ExitCommandError, "no run registry: set server.database in the config or pass --server")
	}
	r, err := registry.Open(ctx, db.Driver, db.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open run registry", err)
	}
	return localRuns{r}, nil
}

func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded estimation runs",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "", "estimator address; empty reads the configured database")

	var opts registry.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, _, err := rootOpts.load()
			if err != nil {
				return out.Error(err)
			}
			store, err := openRuns(cmd.Context(), server, cfg)
			if err != nil {
				return out.Error(err)
			}
			defer store.close()
			runs, err := store.list(cmd.Context(), opts)
			if err != nil {
				return out.Error(WrapExitError(ExitFailure, "list runs", err))
			}
			return out.Success(runs, func(w io.Writer) error { return writeRuns(w, runs) })
		},
	}
	list.Flags().IntVarP(&opts.UnitCells, "cells", "N", 0, "only runs with this many unit cells")
	list.Flags().IntVar(&opts.Page, "page", 1, "page number")
	list.Flags().IntVar(&opts.PageSize, "page-size", 20, "runs per page")

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, _, err := rootOpts.load()
			if err != nil {
				return out.Error(err)
			}
			store, err := openRuns(cmd.Context(), server, cfg)
			if err != nil {
				return out.Error(err)
			}
			defer store.close()
			rec, err := store.get(cmd.Context(), args[0])
			if err != nil {
				return out.Error(WrapExitError(ExitFailure, "get run", err))
			}
			return out.Success(rec, func(w io.Writer) error {
				writeRuns(w, []registry.RunRecord{*rec})
				if rec.Result == nil {
					return nil
				}
				fmt.Fprintln(w)
				return decoder.WriteTable(w, rec.Result.Estimates)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, _, err := rootOpts.load()
			if err != nil {
				return out.Error(err)
			}
			store, err := openRuns(cmd.Context(), server, cfg)
			if err != nil {
				return out.Error(err)
			}
			defer store.close()
			if err := store.delete(cmd.Context(), args[0]); err != nil {
				return out.Error(WrapExitError(ExitFailure, "delete run", err))
			}
			deleted := map[string]string{"deleted": args[0]}
			return out.Success(deleted, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Deleted run %s\n", args[0])
				return err
			})
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func writeRuns(w io.Writer, runs []registry.RunRecord) error {
	fmt.Fprintf(w, "%-36s | %-20s | %-3s | %-6s | %-6s | %-6s | %-10s | %s\n",
		"ID", "Created", "N", "v", "w", "p", "Top energy", "Spread")
	fmt.Fprintln(w, "-----------------------------------------------------------------------------------------------------------")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s | %-20s | %-3d | %-6.3f | %-6.3f | %-6.3f | %-10.4f | %.4f\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.UnitCells, r.Intracell, r.Intercell,
			r.ErrorRate, r.TopEnergy, r.Spread)
	}
	return nil
}
