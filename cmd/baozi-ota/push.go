package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/otapush"
)

var errNoTarget = errors.New("either --node or --name is required")

type pushFlags struct {
	node     string
	name     string
	listen   string
	chunk    int
	attempts int
	minSize  int
	quiet    bool
	browse   browseFlags
}

func newPushCmd() *cobra.Command {
	var f pushFlags

	cmd := &cobra.Command{
		Use:   "push IMAGE",
		Short: "Push a firmware image to a node",
		Long: `Push a firmware image to a node.

The node is given directly with --node (host or host:port; the port
defaults to 3232) or looked up by its advertised name with --name.

Examples:
  baozi-ota push build/baozi-node --node 192.168.1.40
  baozi-ota push build/baozi-node --name baozi-a1b2c3d4e5f6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.node, "node", "n", "", "Node address, host[:port]")
	cmd.Flags().StringVar(&f.name, "name", "", "Node instance name to look up over mDNS")
	cmd.Flags().StringVar(&f.listen, "listen", ":0", "Local address the node connects back to")
	cmd.Flags().IntVar(&f.chunk, "chunk", fota.DefaultChunkSize, "Bytes per acknowledged chunk")
	cmd.Flags().IntVar(&f.attempts, "attempts", otapush.DefaultAttempts, "Announcements sent before giving up")
	cmd.Flags().IntVar(&f.minSize, "min-size", fota.DefaultMinImageSize, "Smallest image the node accepts")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress")
	f.browse.register(cmd)
	return cmd
}

func runPush(ctx context.Context, out io.Writer, imagePath string, f pushFlags) error {
	img, err := otapush.LoadImage(imagePath, f.minSize)
	if err != nil {
		return err
	}

	target, err := resolveTarget(ctx, f)
	if err != nil {
		return err
	}

	pusher := otapush.New(otapush.Config{
		ChunkSize:  f.chunk,
		ListenAddr: f.listen,
		Attempts:   f.attempts,
	})

	fmt.Fprintf(out, "Pushing %s (%d bytes, md5 %s) to %s\n", imagePath, img.Size(), img.Token, target)

	var progress otapush.Progress
	if !f.quiet {
		last := -10
		progress = func(sent, total int) {
			pct := sent * 100 / total
			if pct/10 != last/10 {
				fmt.Fprintf(out, "  %3d%% (%d/%d)\n", pct, sent, total)
				last = pct
			}
		}
	}

	if err := pusher.Push(ctx, target, img, progress); err != nil {
		return err
	}
	fmt.Fprintln(out, "Image committed; node is restarting")
	return nil
}

// resolveTarget returns the node's announcement address.
func resolveTarget(ctx context.Context, f pushFlags) (string, error) {
	if f.node != "" {
		return withDefaultPort(f.node), nil
	}
	if f.name == "" {
		return "", errNoTarget
	}

	nodes, err := otapush.Discover(ctx, f.browse.service, f.browse.domain, f.browse.timeout)
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.Instance == f.name {
			return n.Addr(), nil
		}
	}
	return "", fmt.Errorf("node %q not found within %s", f.name, f.browse.timeout)
}

// withDefaultPort appends the update port to a bare host.
func withDefaultPort(node string) string {
	if _, _, err := net.SplitHostPort(node); err == nil {
		return node
	}
	return net.JoinHostPort(node, strconv.Itoa(fota.DefaultPort))
}
