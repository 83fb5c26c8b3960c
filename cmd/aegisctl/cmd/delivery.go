package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/aegishook/aegishook/internal/delivery"
)

// jobWithAttempts mirrors the API's per-job delivery view.
type jobWithAttempts struct {
	Job      delivery.Job       `json:"job"`
	Attempts []delivery.Attempt `json:"attempts"`
}

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect event deliveries",
	Long:  `Inspect per-endpoint delivery jobs and their attempt logs.`,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [event-id]",
	Short: "Get delivery status for an event",
	Long: `Show every delivery job for an event with its full attempt log.

Example:
  aegisctl delivery status evt_123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventID := args[0]

		var resp struct {
			Deliveries []jobWithAttempts `json:"deliveries"`
		}
		if err := callAPI(http.MethodGet, "/api/v1/events/"+eventID+"/deliveries", nil, &resp, nil); err != nil {
			return fmt.Errorf("failed to get delivery status: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}

		fmt.Printf("Deliveries for event %s:\n", eventID)
		if len(resp.Deliveries) == 0 {
			fmt.Println("  No delivery jobs found")
			return nil
		}

		for _, d := range resp.Deliveries {
			fmt.Printf("\n  Job %s -> endpoint %s\n", d.Job.ID, d.Job.EndpointID)
			fmt.Printf("    Status: %s\n", d.Job.Status)
			fmt.Printf("    Attempts: %d\n", d.Job.Attempt)
			if d.Job.ResubmittedFrom != nil {
				fmt.Printf("    Resubmitted from: %s\n", *d.Job.ResubmittedFrom)
			}
			for _, a := range d.Attempts {
				line := fmt.Sprintf("    #%d %s", a.Number, a.Outcome)
				if a.HTTPStatus > 0 {
					line += fmt.Sprintf(" http=%d", a.HTTPStatus)
				}
				if a.ExecutedAt == nil {
					line += " (nothing sent)"
				}
				if a.Reason != "" {
					line += " reason=" + a.Reason
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(statusCmd)
}
