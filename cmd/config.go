package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or update the running coordinator's configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current configuration view",
	Run: func(cmd *cobra.Command, args []string) {
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "getConfig", nil, &result); err != nil {
			exitWithError("getConfig failed", err)
		}
		printJSON(result)
	},
}

var (
	patchDefaultBatchSize      int
	patchMaxBatchSize          int
	patchWebhookURL            string
	patchReportIntervalMinutes int
	patchReportingEnabled      bool
	patchReportingDisabled     bool
)

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Apply a partial configuration update",
	Long:  `Only flags explicitly set on the command line are sent as part of the patch.`,
	Run: func(cmd *cobra.Command, args []string) {
		patch := map[string]interface{}{}
		if cmd.Flags().Changed("default-batch-size") {
			patch["defaultBatchSize"] = patchDefaultBatchSize
		}
		if cmd.Flags().Changed("max-batch-size") {
			patch["maxBatchSize"] = patchMaxBatchSize
		}
		if cmd.Flags().Changed("webhook-url") {
			patch["webhookUrl"] = patchWebhookURL
		}
		if cmd.Flags().Changed("report-interval-minutes") {
			patch["reportIntervalMinutes"] = patchReportIntervalMinutes
		}
		if patchReportingEnabled {
			patch["reportingEnabled"] = true
		} else if patchReportingDisabled {
			patch["reportingEnabled"] = false
		}

		var result json.RawMessage
		if err := newClient().Into(context.Background(), "updateConfig", patch, &result); err != nil {
			exitWithError("updateConfig failed", err)
		}
		printJSON(result)
	},
}

var exportFailedCmd = &cobra.Command{
	Use:   "export-failed",
	Short: "Export failed tasks across one or all rounds",
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{"roundId": tasksRoundID, "limit": 100}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "exportFailed", params, &result); err != nil {
			exitWithError("exportFailed failed", err)
		}
		printJSON(result)
	},
}

var triggerReportCmd = &cobra.Command{
	Use:   "trigger-report",
	Short: "Manually fire the completion webhook outside its automatic schedule",
	Run: func(cmd *cobra.Command, args []string) {
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "triggerReport", nil, &result); err != nil {
			exitWithError("triggerReport failed", err)
		}
		printJSON(result)
	},
}

func init() {
	configSetCmd.Flags().IntVar(&patchDefaultBatchSize, "default-batch-size", 0, "default lease batch size")
	configSetCmd.Flags().IntVar(&patchMaxBatchSize, "max-batch-size", 0, "maximum lease batch size")
	configSetCmd.Flags().StringVar(&patchWebhookURL, "webhook-url", "", "completion webhook URL (https://...)")
	configSetCmd.Flags().IntVar(&patchReportIntervalMinutes, "report-interval-minutes", 0, "minimum minutes between automatic reports")
	configSetCmd.Flags().BoolVar(&patchReportingEnabled, "reporting-enabled", false, "turn on webhook reporting independently of the configured URL")
	configSetCmd.Flags().BoolVar(&patchReportingDisabled, "reporting-disabled", false, "turn off webhook reporting without clearing the URL")

	exportFailedCmd.Flags().StringVar(&tasksRoundID, "round", "", "round id (empty exports every round)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(exportFailedCmd)
	rootCmd.AddCommand(triggerReportCmd)
}
