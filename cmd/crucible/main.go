// Crucible is a sandboxed code-generation agent. It pairs a generator
// role that writes code with an executor role that verifies it inside
// ephemeral Docker containers, iterating until the task succeeds or the
// iteration budget runs out.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible is a sandboxed code-generation agent.",
	Long: `Crucible runs coding tasks through a generator/executor loop.
The generator writes code against the project directory, the executor
verifies it in an isolated Docker sandbox, and verification feedback is
fed back to the generator until the task succeeds or the iteration
budget is exhausted.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, sandboxCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
