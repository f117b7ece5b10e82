package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8082"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Format  string // "text" | "json" | "yaml"
	Timeout time.Duration
}

var ValidFormats = []string{"text", "json", "yaml"}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.Timeout)
}

// NewRootCommand creates the vpngwctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	server := os.Getenv("VPNGW_SERVER")
	if server == "" {
		server = defaultServer
	}

	cmd := &cobra.Command{
		Use:   "vpngwctl",
		Short: "Manage VPN gateway identities",
		Long:  "vpngwctl provisions, inspects and removes VPN gateways through the vpngw API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "vpngw API base URL (env VPNGW_SERVER)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewPoolCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}
