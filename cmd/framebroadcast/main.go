package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "framebroadcast",
		Short: "Broadcast the latest frame to every connected TCP client",
		Long: `framebroadcast serves a multipart/x-mixed-replace stream over raw TCP.

Every client receives the freshest frame available; a slow client drops
intermediate frames instead of slowing down the producer or its peers.
Frames come from an internal source (file replay or RTSP camera) or from
the Go API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		interfacesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
