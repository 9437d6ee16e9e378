package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect and manage worker node telemetry",
}

var (
	nodePage int
	nodeSize int
)

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known worker nodes",
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{"page": nodePage, "pageSize": nodeSize}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "listNodes", params, &result); err != nil {
			exitWithError("listNodes failed", err)
		}
		printJSON(result)
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete <node-id>",
	Short: "Delete a node's telemetry record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]string{"nodeId": args[0]}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "deleteNode", params, &result); err != nil {
			exitWithError("deleteNode failed", err)
		}
		printJSON(result)
	},
}

var (
	processedNodeID      string
	processedItemNum     float64
	processedRunningTime float64
	processedRoundID     string
)

var nodeRecordCmd = &cobra.Command{
	Use:   "record-processed",
	Short: "Record a processed-items telemetry sample for a node",
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"nodeId":      processedNodeID,
			"itemNum":     processedItemNum,
			"runningTime": processedRunningTime,
			"roundId":     processedRoundID,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "recordNodeProcessedInfo", params, &result); err != nil {
			exitWithError("recordNodeProcessedInfo failed", err)
		}
		printJSON(result)
	},
}

func init() {
	nodeListCmd.Flags().IntVar(&nodePage, "page", 1, "page number")
	nodeListCmd.Flags().IntVar(&nodeSize, "size", 50, "page size")

	nodeRecordCmd.Flags().StringVar(&processedNodeID, "node", "", "worker node id")
	nodeRecordCmd.Flags().Float64Var(&processedItemNum, "items", 0, "items processed")
	nodeRecordCmd.Flags().Float64Var(&processedRunningTime, "running-time", 0, "time spent processing, in seconds")
	nodeRecordCmd.Flags().StringVar(&processedRoundID, "round", "", "round id this telemetry belongs to")
	nodeRecordCmd.MarkFlagRequired("node")
	nodeRecordCmd.MarkFlagRequired("round")

	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodeRecordCmd)
}
