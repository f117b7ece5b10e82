package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vpngw/internal/api/dto"
)

func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var ipAddress string

	cmd := &cobra.Command{
		Use:   "create <common-name>",
		Short: "Provision a gateway",
		Long: `Provision a gateway: assign an IP pair, issue a client certificate
and store the record.

Examples:
  vpngwctl create gw-berlin
  vpngwctl create gw-paris --ip 10.8.0.10`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := opts.client().CreateGateway(cmd.Context(), args[0], ipAddress)
			if err != nil {
				return failed("create gateway", err)
			}
			return render(cmd.OutOrStdout(), opts.Format, gateway, func(w io.Writer) error {
				return writeGateway(w, gateway)
			})
		},
	}

	cmd.Flags().StringVar(&ipAddress, "ip", "", "requested low address of the IP pair")
	return cmd
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <common-name>",
		Short:         "Show a gateway",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := opts.client().GetGateway(cmd.Context(), args[0])
			if err != nil {
				return failed("get gateway", err)
			}
			return render(cmd.OutOrStdout(), opts.Format, gateway, func(w io.Writer) error {
				return writeGateway(w, gateway)
			})
		},
	}
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List gateways",
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gateways, err := opts.client().ListGateways(cmd.Context())
			if err != nil {
				return failed("list gateways", err)
			}
			return render(cmd.OutOrStdout(), opts.Format, gateways, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "COMMON NAME\tIP ADDRESS\tCERTIFICATE\tCREATED")
				for _, g := range gateways {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", g.CommonName, g.IPAddress, g.HasCertificate, g.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <common-name>",
		Short:         "Remove a gateway and revoke its certificate",
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteGateway(cmd.Context(), args[0]); err != nil {
				return failed("delete gateway", err)
			}
			if opts.Format == "text" {
				fmt.Fprintf(cmd.OutOrStdout(), "Gateway %s deleted\n", args[0])
			}
			return nil
		},
	}
}

func NewConfigCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config <common-name>",
		Short: "Download a gateway's client profile",
		Long: `Download the OpenVPN client profile of a gateway.

Examples:
  vpngwctl config gw-berlin > gw-berlin.ovpn
  vpngwctl config gw-berlin -o gw-berlin.ovpn`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := opts.client().GatewayConfig(cmd.Context(), args[0])
			if err != nil {
				return failed("get gateway config", err)
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(profile)
				return err
			}
			if err := os.WriteFile(output, profile, 0o600); err != nil {
				return WrapExitError(ExitCommandError, "write profile", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Profile written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the profile to a file")
	return cmd
}

func writeGateway(w io.Writer, g dto.Gateway) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Common name:\t%s\n", g.CommonName)
	fmt.Fprintf(tw, "IP address:\t%s\n", g.IPAddress)
	fmt.Fprintf(tw, "Created:\t%s\n", g.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Certificate:\t%t\n", g.Certificate != "")
	return tw.Flush()
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args)))
		}
		return nil
	}
}
