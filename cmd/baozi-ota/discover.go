package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/baozi-iot/baozi-node/internal/otapush"
)

func newDiscoverCmd() *cobra.Command {
	var browse browseFlags

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List nodes advertising the update service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodes, err := otapush.Discover(cmd.Context(), browse.service, browse.domain, browse.timeout)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("no nodes found within %s", browse.timeout)
			}
			return printNodes(cmd, nodes)
		},
	}
	browse.register(cmd)
	return cmd
}

func printNodes(cmd *cobra.Command, nodes []otapush.Node) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tVERSION")
	for _, n := range nodes {
		v := n.Version
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", n.Instance, n.Addr(), v)
	}
	return w.Flush()
}
