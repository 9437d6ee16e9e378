package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Manage task rounds",
	Long: `Create, activate, list, inspect and clear rounds of dispatch work.

Subcommands:
  import   - import a batch of paths as a new round
  activate - set the active round
  list     - list every round's summary
  tasks    - list a round's tasks, optionally filtered by status
  find     - find one task by id or path
  clear    - clear one round
  clear-all - clear every round`,
}

var (
	roundName       string
	roundSourceType string
	roundSourceHint string
	roundActivate   bool
	roundNoActivate bool
	roundTargetID   string
)

var roundImportCmd = &cobra.Command{
	Use:   "import <path> [path...]",
	Short: "Import paths as a new round, or into an existing one with --round-id",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"paths":      args,
			"name":       roundName,
			"sourceType": roundSourceType,
			"sourceHint": roundSourceHint,
		}
		if roundTargetID != "" {
			params["roundId"] = roundTargetID
		}
		if roundActivate {
			params["activate"] = true
		} else if roundNoActivate {
			params["activate"] = false
		}

		var result json.RawMessage
		if err := newClient().Into(context.Background(), "import", params, &result); err != nil {
			exitWithError("import failed", err)
		}
		printJSON(json.RawMessage(result))
	},
}

var roundActivateCmd = &cobra.Command{
	Use:   "activate <round-id>",
	Short: "Set the active round",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var result json.RawMessage
		params := map[string]string{"roundId": args[0]}
		if err := newClient().Into(context.Background(), "setActiveRound", params, &result); err != nil {
			exitWithError("setActiveRound failed", err)
		}
		printJSON(result)
	},
}

var roundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every round's summary",
	Run: func(cmd *cobra.Command, args []string) {
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "listRounds", nil, &result); err != nil {
			exitWithError("listRounds failed", err)
		}
		printJSON(result)
	},
}

var (
	tasksFilter  string
	tasksPage    int
	tasksSize    int
	tasksRoundID string
)

var roundTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List a round's tasks",
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]interface{}{
			"filter":   tasksFilter,
			"page":     tasksPage,
			"pageSize": tasksSize,
			"roundId":  tasksRoundID,
		}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "listTasks", params, &result); err != nil {
			exitWithError("listTasks failed", err)
		}
		printJSON(result)
	},
}

var roundFindCmd = &cobra.Command{
	Use:   "find <task-id-or-path>",
	Short: "Find a task by id or path",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]string{"query": args[0], "roundId": tasksRoundID}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "findTask", params, &result); err != nil {
			exitWithError("findTask failed", err)
		}
		printJSON(result)
	},
}

var roundClearCmd = &cobra.Command{
	Use:   "clear <round-id>",
	Short: "Clear one round",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := map[string]string{"roundId": args[0]}
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "clearRound", params, &result); err != nil {
			exitWithError("clearRound failed", err)
		}
		fmt.Println("round cleared")
		printJSON(result)
	},
}

var roundClearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Clear every round",
	Run: func(cmd *cobra.Command, args []string) {
		var result json.RawMessage
		if err := newClient().Into(context.Background(), "clearAll", nil, &result); err != nil {
			exitWithError("clearAll failed", err)
		}
		printJSON(result)
	},
}

func init() {
	roundImportCmd.Flags().StringVar(&roundName, "name", "", "round display name")
	roundImportCmd.Flags().StringVar(&roundSourceType, "source-type", "manual", "source type: file, folder, or manual")
	roundImportCmd.Flags().StringVar(&roundSourceHint, "source-hint", "", "origin hint (e.g. file path)")
	roundImportCmd.Flags().BoolVar(&roundActivate, "activate", false, "force-activate the new round")
	roundImportCmd.Flags().BoolVar(&roundNoActivate, "no-activate", false, "force-keep the new round pending")
	roundImportCmd.Flags().StringVar(&roundTargetID, "round-id", "", "merge into an existing round instead of creating one")

	roundTasksCmd.Flags().StringVar(&tasksFilter, "filter", "all", "pending, processing, completed, failed, or all")
	roundTasksCmd.Flags().IntVar(&tasksPage, "page", 1, "page number")
	roundTasksCmd.Flags().IntVar(&tasksSize, "size", 50, "page size")
	roundTasksCmd.Flags().StringVar(&tasksRoundID, "round", "", "round id (defaults to the active round)")
	roundFindCmd.Flags().StringVar(&tasksRoundID, "round", "", "round id to search within")

	roundCmd.AddCommand(roundImportCmd)
	roundCmd.AddCommand(roundActivateCmd)
	roundCmd.AddCommand(roundListCmd)
	roundCmd.AddCommand(roundTasksCmd)
	roundCmd.AddCommand(roundFindCmd)
	roundCmd.AddCommand(roundClearCmd)
	roundCmd.AddCommand(roundClearAllCmd)
}
