package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aegishook/aegishook/internal/delivery"
)

// failuresCmd represents the failures command
var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Manage exhausted deliveries",
	Long:  `List dead-lettered deliveries and resubmit them as fresh jobs.`,
}

// listFailuresCmd represents the failures list command
var listFailuresCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered deliveries",
	Long: `List the tenant's dead-lettered deliveries, newest first.

Example:
  aegisctl failures list --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		path := "/api/v1/integrations/webhook/failures"
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}

		var resp struct {
			Failures []delivery.DeadLetterRecord `json:"failures"`
		}
		if err := callAPI(http.MethodGet, path, nil, &resp, nil); err != nil {
			return fmt.Errorf("failed to list failures: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}

		fmt.Println("Dead-lettered deliveries:")
		if len(resp.Failures) == 0 {
			fmt.Println("  No entries found")
			return nil
		}
		for _, f := range resp.Failures {
			fmt.Printf("\n  Job: %s\n", f.JobID)
			fmt.Printf("    Event: %s\n", f.EventID)
			fmt.Printf("    Endpoint: %s\n", f.EndpointID)
			fmt.Printf("    Attempts made: %d\n", f.AttemptsMade)
			fmt.Printf("    Last outcome: %s\n", f.LastOutcome)
			if f.LastReason != "" {
				fmt.Printf("    Last reason: %s\n", f.LastReason)
			}
			fmt.Printf("    Dead lettered: %s\n", f.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// resubmitCmd represents the failures resubmit command
var resubmitCmd = &cobra.Command{
	Use:   "resubmit [job-id]",
	Short: "Resubmit a dead-lettered delivery",
	Long: `Resubmit a dead-lettered delivery as a fresh job with a zeroed
attempt counter. The dead-letter record stays in place for audit.

Example:
  aegisctl failures resubmit job_456`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		var resp struct {
			Job *delivery.Job `json:"job"`
		}
		path := "/api/v1/integrations/webhook/failures/" + jobID + "/resubmit"
		if err := callAPI(http.MethodPost, path, nil, &resp, nil); err != nil {
			return fmt.Errorf("failed to resubmit: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Resubmitted as job: %s\n", resp.Job.ID)
			fmt.Printf("  Event: %s\n", resp.Job.EventID)
			fmt.Printf("  Endpoint: %s\n", resp.Job.EndpointID)
			fmt.Printf("  Status: %s\n", resp.Job.Status)
			if resp.Job.ResubmittedFrom != nil {
				fmt.Printf("  Resubmitted from: %s\n", *resp.Job.ResubmittedFrom)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.AddCommand(listFailuresCmd)
	failuresCmd.AddCommand(resubmitCmd)

	// Flags for list command
	listFailuresCmd.Flags().Int("limit", 0, "maximum number of results (0 = server default)")
}
