// Command vector is the CLI for the vector coding workflow orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "vector",
	Short: "vector turns change requests into verified pull requests",
	Long: `vector orchestrates AI coding workflows: it provisions a sandboxed
clone of your repository, runs a coding session against it, verifies the
result with the repo's own tests, and opens a pull request.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:7090", "vector server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
