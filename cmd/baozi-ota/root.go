package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/baozi-iot/baozi-node/internal/otapush"
)

// browseFlags are shared by every command that looks nodes up over mDNS.
type browseFlags struct {
	service string
	domain  string
	timeout time.Duration
}

func (f *browseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.service, "service", otapush.DefaultService, "mDNS service type nodes advertise")
	cmd.Flags().StringVar(&f.domain, "domain", "local.", "mDNS domain")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Second, "How long to browse for nodes")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "baozi-ota",
		Short: "Firmware update tool for baozi nodes",
		Long: `baozi-ota finds baozi nodes on the local network and pushes firmware
images to them.

A push announces the image to the node over UDP. The node connects back
over TCP, pulls the image chunk by chunk, commits it to its inactive slot
and restarts into it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDiscoverCmd(), newPushCmd())
	return root
}
