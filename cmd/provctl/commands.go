package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"asirinvest/core-service/internal/model"
)

// errTampered makes the process exit non-zero when a check finds tampering.
var errTampered = errors.New("tampering detected")

// flagLister is implemented by both store backends.
type flagLister interface {
	OpenTamperFlags(ctx context.Context) ([]model.TamperFlag, error)
}

// run opens the env for the duration of fn.
func run(cmd *cobra.Command, open opener, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := open(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	return fn(ctx, e)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid opportunity id %q", raw)
	}
	return id, nil
}

func verifyCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [opportunity-id]",
		Short: "Recompute and check one opportunity's fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, e *env) error {
				v, err := e.core.Fingerprint.Verify(ctx, id)
				var te *model.TamperError
				if errors.As(err, &te) {
					fmt.Fprintf(cmd.OutOrStdout(), "opportunity %d v%d: TAMPERED (%s)\n", id, te.Version, te.Reason)
					return errTampered
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "opportunity %d v%d: intact\n", id, v.Version)
				return nil
			})
		},
	}
}

func historyCmd(open opener) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "history [opportunity-id]",
		Short: "Print the provenance log of an opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, e *env) error {
				recs, err := e.core.Fingerprint.History(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(recs)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tKIND\tHASH\tRECIPIENT\tAT")
				for _, r := range recs {
					recipient := "-"
					if r.RecipientID > 0 {
						recipient = strconv.FormatInt(r.RecipientID, 10)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Version, r.Kind, r.Hash, recipient, r.StampedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return c
}

func sweepCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Verify every stamped opportunity and flag mismatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, e *env) error {
				checked, tampered, err := e.core.Fingerprint.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked %d, tampered %d\n", checked, tampered)
				if tampered > 0 {
					return errTampered
				}
				return nil
			})
		},
	}
}

func flagsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "List open tamper flags, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, e *env) error {
				fl, ok := e.store.(flagLister)
				if !ok {
					return errors.New("store backend does not expose tamper flags")
				}
				flags, err := fl.OpenTamperFlags(ctx)
				if err != nil {
					return err
				}
				if len(flags) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no open tamper flags")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "OPPORTUNITY\tVERSION\tREASON\tDETECTED")
				for _, f := range flags {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", f.OpportunityID, f.Version, f.Reason, f.DetectedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func statsCmd(open opener) *cobra.Command {
	var refresh bool
	c := &cobra.Command{
		Use:   "stats",
		Short: "Show the platform rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, e *env) error {
				get := e.core.Stats.Snapshot
				if refresh {
					get = e.core.Stats.Refresh
				}
				st, err := get(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
	c.Flags().BoolVar(&refresh, "refresh", false, "recompute and rewrite the cached rollup")
	return c
}

func migrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening a postgres store applies the schema.
			return run(cmd, open, func(ctx context.Context, e *env) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}
