package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/hybridrec/internal/api"
	"github.com/kalambet/hybridrec/internal/config"
	"github.com/kalambet/hybridrec/internal/lineage"
	"github.com/kalambet/hybridrec/internal/pipeline"
	"github.com/kalambet/hybridrec/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <file.json>",
	Short: "Run the ingestion pipeline over a file in this process",
	Long: `Run the ingestion pipeline synchronously over a JSON file and print
the run summary. The file holds an array of conversations, or an object
with a "conversations" array.

Examples:
  hybridrec run ./conversations.json
  hybridrec run ./conversations.json --run-id nightly-2025-06-01`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		if runID == "" {
			runID = uuid.NewString()
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Running pipeline %s over %s", runID, args[0])
		sum := a.pipeline.RunFile(ctx, args[0], runID)
		if err := printSummary(sum); err != nil {
			return err
		}
		if sum.Failed() {
			return fmt.Errorf("run %s failed: %s", sum.RunID, derefString(sum.Error))
		}
		printSuccess("Run %s finished (%s)", sum.RunID, sum.Status)
		return nil
	},
}

func init() {
	runCmd.Flags().String("run-id", "", "run identifier (default: random UUID)")
}

func printSummary(sum pipeline.Summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Queue a conversation file on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/ingest"
		if runID != "" {
			path += "?run_id=" + url.QueryEscape(runID)
		}
		resp, err := client.post(cmd.Context(), path, data)
		if err != nil {
			return err
		}

		var result api.IngestResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued run %s from %s (job %s)", result.RunID, filepath.Base(args[0]), result.JobID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("run-id", "", "run identifier (default: assigned by the server)")
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend <user_id>",
	Short: "Show campaign recommendations for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), recommendPath(args[0], top))
		if err != nil {
			return err
		}

		var result api.RecommendationsResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Recommendations) == 0 {
			fmt.Printf("No recommendations for %s.\n", result.UserID)
			return nil
		}
		for i, rec := range result.Recommendations {
			fmt.Printf("%2d. %s  %d\n", i+1, colorize(colorCyan, rec.CampaignID), rec.EngagementScore)
		}
		return nil
	},
}

func recommendPath(userID string, top int) string {
	return fmt.Sprintf("/recommendations/%s?top=%d", url.PathEscape(userID), top)
}

func init() {
	recommendCmd.Flags().Int("top", 5, "number of campaigns to show (1-100)")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs and detected anomalies",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var report lineage.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", lineage.DefaultSummaryLimit, "maximum number of runs to list")
}

func printReport(report lineage.Report) {
	if len(report.Runs) == 0 {
		fmt.Println("No pipeline runs found.")
		return
	}
	for _, run := range report.Runs {
		status := colorize(colorGreen, run.Status)
		if run.Status != storage.RunSuccess {
			status = colorize(colorRed, run.Status)
		}
		latency := "-"
		if run.LatencySeconds != nil {
			latency = (time.Duration(*run.LatencySeconds * float64(time.Second))).String()
		}
		fmt.Printf("%s  %-14s %-8s %5d  %s\n", run.RunID, run.Stage, status, run.RecordCount, latency)
	}
	for _, an := range report.Anomalies {
		printWarning("%s in run %s", an.Type, an.RunID)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
