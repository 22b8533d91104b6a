package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is the value reported by the version command and by the
// custom getProtocolVersion request's sibling, protocol.ProtocolVersion.
// Bump it alongside a tag when cutting a release.
const version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:   "groovyls",
	Short: "A multi-project language server for the target JVM-family language",
	Long: `groovyls is the compilation-orchestrator core of an LSP backend: it
partitions a workspace into independent project scopes, resolves each
scope's classpath lazily via pluggable build-tool importers, and schedules
full/staged/incremental compiles under memory and concurrency pressure.`,
}

// Execute runs the root command; main.main's sole job.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	Execute()
}
