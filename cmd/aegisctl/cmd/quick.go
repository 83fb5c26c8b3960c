package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegishook/aegishook/internal/delivery"
)

// quickCmd represents a set of quick/easy commands for common operations
var quickCmd = &cobra.Command{
	Use:   "quick",
	Short: "Quick operations for common tasks",
	Long:  `Quick operations that combine multiple steps for common workflows.`,
}

// quickSetupCmd creates an endpoint and fires a test event at it.
var quickSetupCmd = &cobra.Command{
	Use:   "setup [url]",
	Short: "Quick setup: create an endpoint and publish a test event",
	Long: `Create a webhook endpoint and publish a test event in one command.

Example:
  aegisctl quick setup https://siem.example.com/hook --format cef`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		format, _ := cmd.Flags().GetString("format")
		secret, _ := cmd.Flags().GetString("secret")

		// Create endpoint
		fmt.Printf("Creating endpoint for %s...\n", url)
		body := map[string]any{"url": url}
		if format != "" {
			body["format"] = format
		}
		if secret != "" {
			body["secret"] = secret
		}
		var epResp endpointPayload
		if err := callAPI(http.MethodPost, "/api/v1/integrations/webhook", body, &epResp, nil); err != nil {
			return fmt.Errorf("failed to create endpoint: %w", err)
		}
		fmt.Printf("Created endpoint: %s\n", epResp.Endpoint.ID)
		if epResp.Secret != "" {
			fmt.Printf("  Secret: %s (store it now; it is not shown again)\n", epResp.Secret)
		}

		// Publish a test event
		fmt.Println("Publishing test event...")
		eventBody := map[string]any{
			"kind":     "alert",
			"severity": 1,
			"subject":  "aegisctl quick setup test",
			"attributes": map[string]any{
				"source": "aegisctl-quick-setup",
			},
		}
		var pubResp struct {
			EventID     string `json:"event_id"`
			FanoutCount int    `json:"fanout_count"`
		}
		if err := callAPI(http.MethodPost, "/api/v1/events", eventBody, &pubResp, nil); err != nil {
			return fmt.Errorf("failed to publish test event: %w", err)
		}
		fmt.Printf("Published event: %s (fanout: %d)\n", pubResp.EventID, pubResp.FanoutCount)

		// Give the worker a moment before reading the attempt log.
		fmt.Println("Waiting for delivery...")
		time.Sleep(2 * time.Second)

		var delResp struct {
			Deliveries []jobWithAttempts `json:"deliveries"`
		}
		if err := callAPI(http.MethodGet, "/api/v1/events/"+pubResp.EventID+"/deliveries", nil, &delResp, nil); err != nil {
			return fmt.Errorf("failed to get delivery status: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{
				"endpoint":   epResp,
				"event":      pubResp,
				"deliveries": delResp.Deliveries,
			})
			return nil
		}

		fmt.Println("\nDelivery status:")
		if len(delResp.Deliveries) == 0 {
			fmt.Println("  No delivery jobs found yet")
			return nil
		}
		for _, d := range delResp.Deliveries {
			fmt.Printf("  %s -> %s: %s (%d attempts)\n", d.Job.ID, d.Job.EndpointID, d.Job.Status, d.Job.Attempt)
		}
		fmt.Println("\nSetup complete. Publish events with:")
		fmt.Println(`  aegisctl event publish verdict 8 "artifact quarantined" --attributes '{"verdict":"malicious"}'`)
		return nil
	},
}

// quickTestCmd publishes a test event and shows delivery progress.
var quickTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Quick test: publish a test event and report delivery state",
	Long: `Publish a test alert and poll the delivery status of each job.

Example:
  aegisctl quick test`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventBody := map[string]any{
			"kind":     "alert",
			"severity": 1,
			"subject":  "aegisctl quick test",
			"attributes": map[string]any{
				"source": "aegisctl-quick-test",
			},
		}
		var pubResp struct {
			EventID     string `json:"event_id"`
			FanoutCount int    `json:"fanout_count"`
		}
		if err := callAPI(http.MethodPost, "/api/v1/events", eventBody, &pubResp, nil); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		fmt.Printf("Published event: %s (fanout: %d)\n", pubResp.EventID, pubResp.FanoutCount)

		if pubResp.FanoutCount == 0 {
			fmt.Println("No enabled endpoints; create one with: aegisctl endpoint create <url>")
			return nil
		}

		fmt.Println("Waiting for delivery...")
		time.Sleep(2 * time.Second)

		var delResp struct {
			Deliveries []jobWithAttempts `json:"deliveries"`
		}
		if err := callAPI(http.MethodGet, "/api/v1/events/"+pubResp.EventID+"/deliveries", nil, &delResp, nil); err != nil {
			return fmt.Errorf("failed to get delivery status: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{
				"event":      pubResp,
				"deliveries": delResp.Deliveries,
			})
			return nil
		}

		fmt.Println("\nDelivery status:")
		for _, d := range delResp.Deliveries {
			fmt.Printf("  %s -> %s: %s", d.Job.ID, d.Job.EndpointID, statusBadge(d.Job.Status))
			if n := len(d.Attempts); n > 0 {
				last := d.Attempts[n-1]
				if last.HTTPStatus > 0 {
					fmt.Printf(" | HTTP: %d", last.HTTPStatus)
				}
				if last.Reason != "" {
					fmt.Printf(" | Reason: %s", last.Reason)
				}
			}
			fmt.Println()
		}
		return nil
	},
}

// statusBadge renders a job status with a quick visual marker.
func statusBadge(s delivery.JobStatus) string {
	switch s {
	case delivery.StatusPending:
		return "⏳ Pending"
	case delivery.StatusInflight:
		return "🚀 In Flight"
	case delivery.StatusRetrying:
		return "🔁 Retrying"
	case delivery.StatusSucceeded:
		return "✅ Succeeded"
	case delivery.StatusExhausted:
		return "💀 Exhausted"
	default:
		return string(s)
	}
}

func init() {
	rootCmd.AddCommand(quickCmd)
	quickCmd.AddCommand(quickSetupCmd)
	quickCmd.AddCommand(quickTestCmd)

	// Flags for quick setup
	quickSetupCmd.Flags().String("format", "", "payload format: json, cef or leef (default json)")
	quickSetupCmd.Flags().String("secret", "", "webhook secret (if not provided, one will be generated)")
}
