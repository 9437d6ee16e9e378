package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var (
	sweepThresholdMs int64
	sweepRoundID     string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep timed-out processing tasks",
	Long:  `Requeue (or fail, past their retry) tasks that have been processing longer than the threshold.`,
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"thresholdMs": sweepThresholdMs,
			"roundId":     sweepRoundID,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "sweep", params, &result); err != nil {
			exitWithError("sweep failed", err)
		}
		printJSON(result)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect currently-processing tasks",
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"thresholdMs": sweepThresholdMs,
			"roundId":     sweepRoundID,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "inspect", params, &result); err != nil {
			exitWithError("inspect failed", err)
		}
		printJSON(result)
	},
}

func init() {
	sweepCmd.Flags().Int64Var(&sweepThresholdMs, "threshold-ms", 300000, "processing age threshold, in milliseconds")
	sweepCmd.Flags().StringVar(&sweepRoundID, "round", "", "round id (empty sweeps every round)")
	inspectCmd.Flags().Int64Var(&sweepThresholdMs, "threshold-ms", 300000, "near-timeout threshold, in milliseconds")
	inspectCmd.Flags().StringVar(&sweepRoundID, "round", "", "also report this round's detail alongside the aggregate")

	rootCmd.AddCommand(inspectCmd)
}
