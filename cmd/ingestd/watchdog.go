package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func newWatchdogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Check the daemon's health and optionally restart it",
		Long:  `ingestd watchdog [--api=http://localhost:8080] [--restart-cmd="systemctl restart ingestd"]`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, _ := cmd.Flags().GetString("api")
			restartCmd, _ := cmd.Flags().GetString("restart-cmd")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			token, _ := cmd.Flags().GetString("token")

			if err := checkHealth(apiURL, token, timeout); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "health check failed: %v\n", err)
				return handleUnhealthy(restartCmd)
			}
			return nil
		},
	}
	cmd.Flags().String("api", "http://localhost:8080", "ingestd API URL")
	cmd.Flags().String("restart-cmd", "", "command to run if unhealthy")
	cmd.Flags().Duration("timeout", 5*time.Second, "health check timeout")
	cmd.Flags().String("token", os.Getenv("INGESTD_API_TOKEN"), "API token")
	return cmd
}

func checkHealth(apiURL, token string, timeout time.Duration) error {
	client := resty.New().SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	resp, err := client.R().Get(strings.TrimRight(apiURL, "/") + "/api/v1/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}

func handleUnhealthy(restartCmd string) error {
	if restartCmd == "" {
		return fmt.Errorf("unhealthy")
	}

	fmt.Fprintf(os.Stderr, "attempting restart: %s\n", restartCmd)
	cmd := exec.Command("sh", "-c", restartCmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restart command failed: %w", err)
	}
	return nil
}
