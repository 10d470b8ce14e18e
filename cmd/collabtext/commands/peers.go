package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/discovery"
)

var peersTimeout time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List collabtext servers announced on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := discovery.Browse(cmd.Context(), cfg.Discovery.Service, peersTimeout)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(peers) == 0 {
			fmt.Fprintln(out, "no peers found")
			return nil
		}
		for _, p := range peers {
			fmt.Fprintf(out, "%s\t%s:%d\t%v\n", p.Instance, p.Host, p.Port, p.Text)
		}
		return nil
	},
}

func init() {
	peersCmd.Flags().DurationVar(&peersTimeout, "timeout", 5*time.Second, "How long to listen for announcements")
}
