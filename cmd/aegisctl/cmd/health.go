package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the AegisHook service",
	Long:  `Check the intake service's health endpoint, which covers its database and queue dependencies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiRequest(http.MethodGet, "/healthz", nil, nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy (HTTP %d)\n", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
