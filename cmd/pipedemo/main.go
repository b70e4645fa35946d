package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/LiboWorks/pipedemo/internal/worker"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipedemo",
	Short: "Loop lines through a filter program over a pair of pipes",
	Long: `pipedemo starts a filter program with its stdin and stdout wired to two
anonymous pipes, then sends it one line per interval and prints every line
that comes back.

Any program that reads lines on stdin and writes lines on stdout works as a
filter; the default is cat, which echoes each line unchanged.

Examples:
  pipedemo run
  pipedemo run --max-lines 5 --interval 100ms
  pipedemo run --mode direct -- tr a-z A-Z
  pipedemo run --source static -m hello -m world --transcript-dir ./logs`,
}

func main() {
	// A re-executed worker must never reach the CLI.
	if worker.IsWorkerProcess() {
		worker.Main()
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
