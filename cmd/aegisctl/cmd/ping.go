package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the AegisHook service",
	Long:  `Send an authenticated ping request to verify the intake API is reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Message string `json:"message"`
		}
		if err := callAPI(http.MethodGet, "/api/v1/ping", nil, &resp, nil); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Pong! Service is running: %s\n", resp.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
