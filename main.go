package main

import (
	"fmt"
	"os"

	"github.com/jghoshh/goalnudge/backend"
	"github.com/jghoshh/goalnudge/frontend"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "goalnudge",
	Short: "GoalNudge - daily goals with scheduled reminders",

	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and reminder delivery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return backend.RunBackend(envFiles()...)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open the interactive goal tracker",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		frontend.RunFrontend(envFiles()...)
	},
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default .env)")
	rootCmd.AddCommand(serveCmd, shellCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
