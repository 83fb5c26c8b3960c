package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/aegishook/aegishook/internal/delivery"
)

// endpointPayload mirrors the API's endpoint envelope. The secret is
// only present in create responses.
type endpointPayload struct {
	Endpoint *delivery.Endpoint `json:"endpoint"`
	Secret   string             `json:"secret,omitempty"`
}

// endpointCmd represents the endpoint command
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Create and manage the webhook endpoints that receive event deliveries.`,
}

// createEndpointCmd represents the create endpoint command
var createEndpointCmd = &cobra.Command{
	Use:   "create [url]",
	Short: "Create a new webhook endpoint",
	Long: `Create a new webhook endpoint for the tenant.

Example:
  aegisctl endpoint create https://siem.example.com/hook --format cef`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		format, _ := cmd.Flags().GetString("format")
		secret, _ := cmd.Flags().GetString("secret")

		body := map[string]any{"url": url}
		if format != "" {
			body["format"] = format
		}
		if secret != "" {
			body["secret"] = secret
		}

		var resp endpointPayload
		if err := callAPI(http.MethodPost, "/api/v1/integrations/webhook", body, &resp, nil); err != nil {
			return fmt.Errorf("failed to create endpoint: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Created endpoint: %s\n", resp.Endpoint.ID)
			fmt.Printf("  URL: %s\n", resp.Endpoint.URL)
			fmt.Printf("  Format: %s\n", resp.Endpoint.Format)
			fmt.Printf("  Secret: %s\n", resp.Secret)
			fmt.Printf("  Created: %s\n", resp.Endpoint.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Println("\nStore the secret now; it is not shown again.")
		}
		return nil
	},
}

// listEndpointsCmd represents the list endpoints command
var listEndpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's webhook endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Endpoints []delivery.Endpoint `json:"endpoints"`
		}
		if err := callAPI(http.MethodGet, "/api/v1/integrations/webhook", nil, &resp, nil); err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Endpoints) == 0 {
			fmt.Println("No endpoints found")
			return nil
		}
		for _, ep := range resp.Endpoints {
			state := "enabled"
			if !ep.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  %-8s %-5s %s\n", ep.ID, state, ep.Format, ep.URL)
		}
		return nil
	},
}

// showEndpointCmd represents the show endpoint command
var showEndpointCmd = &cobra.Command{
	Use:   "show [endpoint-id]",
	Short: "Show one webhook endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp endpointPayload
		if err := callAPI(http.MethodGet, "/api/v1/integrations/webhook/"+args[0], nil, &resp, nil); err != nil {
			return fmt.Errorf("failed to get endpoint: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			printEndpoint(resp.Endpoint)
		}
		return nil
	},
}

// setEndpointEnabled flips the enabled flag through the PATCH endpoint.
func setEndpointEnabled(endpointID string, enabled bool) error {
	var resp endpointPayload
	body := map[string]any{"enabled": enabled}
	if err := callAPI(http.MethodPatch, "/api/v1/integrations/webhook/"+endpointID, body, &resp, nil); err != nil {
		return err
	}
	if outputJSON {
		printOutput(resp)
	} else {
		printEndpoint(resp.Endpoint)
	}
	return nil
}

// enableEndpointCmd represents the enable endpoint command
var enableEndpointCmd = &cobra.Command{
	Use:   "enable [endpoint-id]",
	Short: "Enable deliveries to an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setEndpointEnabled(args[0], true); err != nil {
			return fmt.Errorf("failed to enable endpoint: %w", err)
		}
		return nil
	},
}

// disableEndpointCmd represents the disable endpoint command. A disable
// also cancels the next attempt of every in-progress delivery to the
// endpoint.
var disableEndpointCmd = &cobra.Command{
	Use:   "disable [endpoint-id]",
	Short: "Disable deliveries to an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setEndpointEnabled(args[0], false); err != nil {
			return fmt.Errorf("failed to disable endpoint: %w", err)
		}
		return nil
	},
}

func printEndpoint(ep *delivery.Endpoint) {
	fmt.Printf("Endpoint: %s\n", ep.ID)
	fmt.Printf("  URL: %s\n", ep.URL)
	fmt.Printf("  Format: %s\n", ep.Format)
	fmt.Printf("  Enabled: %v\n", ep.Enabled)
	fmt.Printf("  Created: %s\n", ep.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated: %s\n", ep.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(createEndpointCmd)
	endpointCmd.AddCommand(listEndpointsCmd)
	endpointCmd.AddCommand(showEndpointCmd)
	endpointCmd.AddCommand(enableEndpointCmd)
	endpointCmd.AddCommand(disableEndpointCmd)

	// Flags for create endpoint
	createEndpointCmd.Flags().String("format", "", "payload format: json, cef or leef (default json)")
	createEndpointCmd.Flags().String("secret", "", "webhook secret (if not provided, one will be generated)")
}
