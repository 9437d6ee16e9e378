package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var (
	reportSuccess bool
	reportMessage string
)

var reportCmd = &cobra.Command{
	Use:   "report <task-id>",
	Short: "Report a task outcome",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"taskId":  args[0],
			"success": reportSuccess,
			"message": reportMessage,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "report", params, &result); err != nil {
			exitWithError("report failed", err)
		}
		printJSON(result)
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportSuccess, "success", true, "whether the task succeeded")
	reportCmd.Flags().StringVar(&reportMessage, "message", "", "optional outcome message")
}
