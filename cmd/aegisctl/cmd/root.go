package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	serverAddr  string
	timeout     time.Duration
	outputJSON  bool
	prettyJSON  bool
	bearerToken string
	tenantID    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aegisctl",
	Short: "AegisHook CLI - Interact with the AegisHook event delivery service",
	Long: `AegisHook CLI (aegisctl) is a command line tool for interacting with
the AegisHook reliable event delivery service.

You can use it to publish events, inspect delivery state, resubmit
exhausted deliveries, and manage webhook endpoints.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aegisctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "intake base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "JWT bearer token (overrides JWT_TOKEN env var)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id sent as x-tenant-id when auth is disabled")

	// Bind flags to viper
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".aegisctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	if !rootCmd.PersistentFlags().Changed("server") {
		if s := viper.GetString("server"); s != "" {
			serverAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
	if !rootCmd.PersistentFlags().Changed("token") {
		if t := viper.GetString("token"); t != "" {
			bearerToken = t
		} else if t := os.Getenv("JWT_TOKEN"); t != "" {
			bearerToken = t
		}
	}
	if !rootCmd.PersistentFlags().Changed("tenant") {
		if t := viper.GetString("tenant"); t != "" {
			tenantID = t
		} else if t := os.Getenv("TENANT_ID"); t != "" {
			tenantID = t
		}
	}
}

// apiURL joins the configured base URL with a request path.
func apiURL(path string) string {
	return strings.TrimSuffix(serverAddr, "/") + path
}

// apiRequest performs one JSON request against the intake API,
// attaching the bearer token and, for auth-disabled stacks, the tenant
// header.
func apiRequest(method, path string, body any, extraHeaders map[string]string) (*http.Response, error) {
	client := &http.Client{Timeout: timeout}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, apiURL(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if tenantID != "" {
		req.Header.Set("x-tenant-id", tenantID)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// callAPI runs a request and decodes the JSON response into out. Error
// statuses surface the server's error message.
func callAPI(method, path string, body, out any, extraHeaders map[string]string) error {
	resp, err := apiRequest(method, path, body, extraHeaders)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return out.String(), nil
}

// printOutput prints the response in the requested format
func printOutput(v any) {
	if outputJSON {
		var jsonData []byte
		var err error
		if prettyJSON {
			// Compact JSON if we're going to format with jq
			jsonData, err = json.Marshal(v)
		} else {
			jsonData, err = json.MarshalIndent(v, "", "  ")
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}

		if prettyJSON {
			formatted, jqErr := formatWithJQ(jsonData)
			if jqErr != nil {
				// Fall back to standard pretty printing if jq fails
				fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
				jsonData, _ = json.MarshalIndent(v, "", "  ")
				fmt.Println(string(jsonData))
			} else {
				// jq output already includes a trailing newline
				fmt.Print(formatted)
			}
		} else {
			fmt.Println(string(jsonData))
		}
	} else {
		// Human-readable format
		fmt.Printf("%+v\n", v)
	}
}
