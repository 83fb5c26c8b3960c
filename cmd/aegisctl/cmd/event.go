package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aegishook/aegishook/internal/event"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events",
	Long:  `Publish security events for delivery to the tenant's webhook endpoints.`,
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [kind] [severity] [subject]",
	Short: "Publish an event",
	Long: `Publish an event. Kind is "verdict" or "alert", severity is 0-10.

Attribute order is preserved in encoded CEF/LEEF extensions, so pass
--attributes as an ordered JSON object.

Example:
  aegisctl event publish verdict 8 "artifact quarantined" \
    --attributes '{"verdict":"malicious","artifact_id":"sha256:abc"}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]
		severity, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid severity %q: %w", args[1], err)
		}
		subject := args[2]

		attrsJSON, _ := cmd.Flags().GetString("attributes")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")

		var attrs event.Attributes
		if attrsJSON != "" {
			if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
				return fmt.Errorf("invalid attributes JSON: %w", err)
			}
		}

		body := map[string]any{
			"kind":     kind,
			"severity": severity,
			"subject":  subject,
		}
		if len(attrs) > 0 {
			body["attributes"] = attrs
		}
		var headers map[string]string
		if idempotencyKey != "" {
			headers = map[string]string{"Idempotency-Key": idempotencyKey}
		}

		var resp struct {
			EventID     string `json:"event_id"`
			FanoutCount int    `json:"fanout_count"`
		}
		if err := callAPI(http.MethodPost, "/api/v1/events", body, &resp, headers); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Published event: %s\n", resp.EventID)
			fmt.Printf("  Fanout count: %d\n", resp.FanoutCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)

	// Flags for publish
	publishCmd.Flags().String("attributes", "", "event attributes as a JSON object (order preserved)")
	publishCmd.Flags().String("idempotency-key", "", "idempotency key for deduplication")
}
