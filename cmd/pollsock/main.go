// Package main is the entry point for the pollsock CLI.
//
// Usage:
//
//	pollsock server -c server.yaml          # answer polls, attach the stream locally
//	pollsock client -c client.yaml          # poll a server
//	pollsock client --remote host:8080 --attach tcp-listen --attach-address 127.0.0.1:2222
//	pollsock gencert --hosts tunnel.example.com
//	pollsock version
package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"pollsock.it/config"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pollsock",
		Short: "A byte stream tunnelled through HTTP polls",
		Long: `pollsock carries one ordered byte stream between two endpoints over
infrastructure that only lets HTTP requests and responses through.

The client polls the server with HTTP requests whose bodies carry outbound
bytes; each response carries bytes back. Either end attaches the stream to
something local: stdio, a TCP listener, a TCP service, a websocket or a
SOCKS5 front-end.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newEndpointCmd(config.RoleServer),
		newEndpointCmd(config.RoleClient),
		newGencertCmd(),
		versionCmd,
	)
	return rootCmd
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pollsock %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func main() {
	// atexit closes the log file before leaving.
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
