package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saibing/groovyls/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server and protocol version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("groovyls %s (protocol %s)\n", version, protocol.ProtocolVersion)
	},
}
