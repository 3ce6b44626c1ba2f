package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dm-service/internal/client"
)

var (
	version = "dev"

	serverURL string
	token     string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dmclient",
	Short: "Command line client for dm-service",
	Long: `dmclient sends and reads direct messages through the dm-service HTTP API
and follows live events over the websocket stream.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("DM_SERVER", "http://localhost:8083"), "dm-service base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("DM_TOKEN"), "bearer token (default $DM_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
}

func apiClient() (*client.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("a token is required: pass --token or set DM_TOKEN")
	}
	return client.New(serverURL, token), nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
