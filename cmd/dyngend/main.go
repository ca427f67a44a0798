package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	httpBaseURL string
	configFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dyngend",
		Short: "dyngend - dynamic JS generator lifecycle daemon",
		Long:  "A daemon and CLI for managing hot-swappable scripted generator units over an RT/NRT pipeline scheduler",
	}

	rootCmd.PersistentFlags().StringVar(&httpBaseURL, "addr", "http://localhost:8090", "dyngend HTTP control surface base URL")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")

	rootCmd.AddCommand(
		serveCmd(),
		scriptCmd(),
		unitCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
