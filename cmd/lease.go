package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var (
	leaseBatchSize int
	leaseRoundID   string
	leaseNodeID    string
)

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Lease a batch of tasks",
	Long:  `Lease up to --batch tasks, from a named round or the active round.`,
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"batchSize": leaseBatchSize,
			"roundId":   leaseRoundID,
			"nodeId":    leaseNodeID,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "lease", params, &result); err != nil {
			exitWithError("lease failed", err)
		}
		printJSON(result)
	},
}

func init() {
	leaseCmd.Flags().IntVar(&leaseBatchSize, "batch", 0, "requested batch size (0 = server default)")
	leaseCmd.Flags().StringVar(&leaseRoundID, "round", "", "round id (defaults to the active round)")
	leaseCmd.Flags().StringVar(&leaseNodeID, "node", "", "worker node id")
	leaseCmd.MarkFlagRequired("node")
}
