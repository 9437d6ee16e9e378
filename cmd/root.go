// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskrelay/dispatchd/internal/apiclient"
)

var (
	// Global flags
	configFile string
	serverAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "dispatchd - round-based task dispatch coordinator",
	Long: `dispatchd coordinates batches of path-shaped tasks ("rounds") across a
pool of worker nodes: workers lease batches, report outcomes, and a
timeout sweep retries or fails tasks that go quiet mid-processing.

This binary serves two roles:
  serve  - run the coordinator itself (HTTP control API + metrics)
  *      - every other subcommand is a thin client that talks to a
           running coordinator over its control API`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/dispatchd/config.yml",
		"config file path (serve only)")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://127.0.0.1:8089",
		"dispatchd coordinator address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(roundCmd)
	rootCmd.AddCommand(leaseCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(configCmd)
}

// exitWithError prints error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

func newClient() *apiclient.Client {
	return apiclient.New(serverAddr, 10*time.Second)
}

// printJSON pretty-prints an already-unmarshaled result for display.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}
	fmt.Println(string(data))
}
