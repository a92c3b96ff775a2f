package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "mendctl",
		Short: "mendctl - drive the mend remediation loop",
		Long: `mendctl is a command-line interface for a running mend server.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "mend server URL")

	rootCmd.AddCommand(newCycleCommand())
	rootCmd.AddCommand(newProblemCommand())
	rootCmd.AddCommand(newOutcomeCommand())
	rootCmd.AddCommand(newRecoverCommand())
	rootCmd.AddCommand(newDiagnoseCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newSuggestCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("MEND_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

func newCycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one learning cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/cycle", nil)
		},
	}
}

func newProblemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "problems",
		Short: "List open problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/problems", nil)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hypotheses <problem-id>",
		Short: "List hypotheses for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/problems/"+args[0]+"/hypotheses", nil)
		},
	})
	return cmd
}

func newOutcomeCommand() *cobra.Command {
	var success bool
	var details string
	cmd := &cobra.Command{
		Use:   "outcome <hypothesis-id>",
		Short: "Record whether a hypothesis fix worked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/hypotheses/"+args[0]+"/outcome", map[string]interface{}{
				"success": success,
				"details": details,
			})
		},
	}
	cmd.Flags().BoolVar(&success, "success", false, "The fix worked")
	cmd.Flags().StringVar(&details, "details", "", "What was observed")
	return cmd
}

func newRecoverCommand() *cobra.Command {
	var errCtx string
	cmd := &cobra.Command{
		Use:   "recover <error-message>",
		Short: "Run automatic recovery for an error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/recover", map[string]string{
				"error":   args[0],
				"context": errCtx,
			})
		},
	}
	cmd.Flags().StringVar(&errCtx, "context", "", "Additional error context")
	return cmd
}

func newDiagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <message>",
		Short: "Classify an error message by keyword rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/diagnose", map[string]string{"message": args[0]})
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the pre-deployment validation gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/validate", nil)
		},
	}
}

func newRollbackCommand() *cobra.Command {
	var wait int
	cmd := &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Check deployment health and roll back if unhealthy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/rollback/monitor", map[string]interface{}{
				"version_id":   args[0],
				"wait_seconds": wait,
			})
		},
	}
	cmd.Flags().IntVar(&wait, "wait", 30, "Seconds to wait before the health check")
	cmd.AddCommand(&cobra.Command{
		Use:   "should",
		Short: "Read-only pre-flight rollback decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/rollback/should", nil)
		},
	})
	return cmd
}

func newSuggestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "List prioritized next actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/suggestions", nil)
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show experience ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/statistics", nil)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the self-diagnosis health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/healthz", nil)
		},
	}
}

// call performs one API request and pretty-prints the JSON response.
func call(method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
