package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vpngw/internal/ippool"
)

func NewPoolCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pool",
		Short:         "Show IP pair pool usage",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().PoolStatus(cmd.Context())
			if err != nil {
				return failed("get pool status", err)
			}
			return render(cmd.OutOrStdout(), opts.Format, status, func(w io.Writer) error {
				return writeStatus(w, status)
			})
		},
	}
}

func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Merge stored assignments into the server's pool",
		Long: `Ask the server to merge every stored gateway assignment into its
in-memory pool. Pairs held by in-flight provisioning runs are kept.`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Reconcile(cmd.Context())
			if err != nil {
				return failed("reconcile pool", err)
			}
			return render(cmd.OutOrStdout(), opts.Format, status, func(w io.Writer) error {
				return writeStatus(w, status)
			})
		},
	}
}

func writeStatus(w io.Writer, s ippool.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Network:\t%s\n", s.Network)
	fmt.Fprintf(tw, "Reserved:\t%s\n", s.Reserved)
	if s.Size > 0 {
		fmt.Fprintf(tw, "Range:\t%s - %s\n", s.First, s.Last)
	}
	fmt.Fprintf(tw, "Pairs:\t%d\n", s.Size)
	fmt.Fprintf(tw, "Allocated:\t%d\n", s.Allocated)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(tw, "Free:\t%d\n", s.Free)
	return tw.Flush()
}
