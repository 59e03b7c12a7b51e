package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/netif"
)

func interfacesCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List IPv4 addresses usable as bind addresses",
		Long: `List the IPv4 addresses of interfaces that are up and whose name starts
with --prefix. The first one is what "serve" binds when server.bind_address
is empty and server.interface_prefix is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := netif.Candidates(prefix)
			if err != nil {
				return fmt.Errorf("failed to list interfaces: %w", err)
			}
			if len(addrs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no addresses for prefix %q\n", prefix)
				return nil
			}
			for _, a := range addrs {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Interface name prefix (e.g. eth, en)")

	return cmd
}
