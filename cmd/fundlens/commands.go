package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a fund document",
	Long: `Ingest a fund document into the pipeline.

Examples:
  fundlens ingest --file ./capital_calls.csv --fund 4f2c...
  fundlens ingest --file ./q3_report.pdf --fund 4f2c... --format pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		fundID, _ := cmd.Flags().GetString("fund")
		format, _ := cmd.Flags().GetString("format")

		if file == "" {
			return fmt.Errorf("--file is required")
		}
		if fundID == "" {
			return fmt.Errorf("--fund is required")
		}
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(file), ".")
		}
		if format == "" {
			return fmt.Errorf("could not infer format from %q, use --format", file)
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"fund_id":  fundID,
			"format":   strings.ToLower(format),
			"filename": filepath.Base(file),
			"content":  base64.StdEncoding.EncodeToString(data),
		}
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s", result["document_id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "path of the document to ingest")
	ingestCmd.Flags().String("fund", "", "fund the document belongs to")
	ingestCmd.Flags().String("format", "", "document format: csv, xlsx, or pdf (default: file extension)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about fund documents and transactions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		fundID, _ := cmd.Flags().GetString("fund")
		conversationID, _ := cmd.Flags().GetString("conversation")
		newConversation, _ := cmd.Flags().GetBool("new-conversation")
		topK, _ := cmd.Flags().GetInt("top-k")
		showSources, _ := cmd.Flags().GetBool("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if newConversation {
			resp, err := client.post(cmd.Context(), "/conversations", map[string]string{"fund_id": fundID})
			if err != nil {
				return err
			}
			var conv map[string]string
			if err := decodeJSON(resp, &conv); err != nil {
				return err
			}
			conversationID = conv["id"]
			printStatus("Conversation", "%s", conversationID)
		}

		req := map[string]any{
			"question":        question,
			"fund_id":         fundID,
			"conversation_id": conversationID,
			"top_k":           topK,
		}
		resp, err := client.post(cmd.Context(), "/query", req)
		if err != nil {
			return err
		}

		var result struct {
			Answer  string `json:"answer"`
			Intent  string `json:"intent"`
			Sources []struct {
				DocumentID string  `json:"document_id"`
				Content    string  `json:"content"`
				Score      float32 `json:"score"`
			} `json:"sources"`
			Metrics map[string]float64 `json:"metrics"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)

		if showSources && len(result.Sources) > 0 {
			for i, s := range result.Sources {
				fmt.Printf("\n%s [score: %.3f, doc: %s]\n", colorize(colorBold, fmt.Sprintf("Source %d", i+1)), s.Score, s.DocumentID)
				text := s.Content
				if len(text) > 400 {
					text = text[:400] + "..."
				}
				fmt.Printf("  %s\n", text)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("fund", "", "fund to scope the question to")
	askCmd.Flags().String("conversation", "", "conversation to continue")
	askCmd.Flags().Bool("new-conversation", false, "start a new conversation")
	askCmd.Flags().Int("top-k", 0, "number of document chunks to retrieve")
	askCmd.Flags().Bool("sources", false, "print the retrieved source excerpts")
}

// --- funds ---

var fundsCmd = &cobra.Command{
	Use:   "funds",
	Short: "Manage funds",
}

var fundsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a fund",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commitment, _ := cmd.Flags().GetString("commitment")
		nav, _ := cmd.Flags().GetString("nav")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{
			"name":       args[0],
			"commitment": commitment,
			"nav":        nav,
		}
		resp, err := client.post(cmd.Context(), "/funds", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created fund %s", result["id"])
		return nil
	},
}

var fundsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered funds",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/funds")
		if err != nil {
			return err
		}

		var funds []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Commitment string `json:"commitment"`
			NAV        string `json:"nav"`
		}
		if err := decodeJSON(resp, &funds); err != nil {
			return err
		}

		if len(funds) == 0 {
			fmt.Println("No funds registered.")
			return nil
		}

		for _, f := range funds {
			fmt.Printf("%s  %s  commitment=%s nav=%s\n",
				colorize(colorCyan, f.ID),
				colorize(colorBold, f.Name),
				f.Commitment, f.NAV,
			)
		}
		return nil
	},
}

var fundsMetricsCmd = &cobra.Command{
	Use:   "metrics <fund-id>",
	Short: "Compute performance metrics for a fund",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/funds/"+args[0]+"/metrics")
		if err != nil {
			return err
		}

		var result struct {
			FundID  string             `json:"fund_id"`
			Metrics map[string]float64 `json:"metrics"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		keys := make([]string, 0, len(result.Metrics))
		for k := range result.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printStatus(strings.ToUpper(k), "%s", formatMetric(k, result.Metrics[k]))
		}
		return nil
	},
}

var fundsClearCmd = &cobra.Command{
	Use:   "clear-embeddings <fund-id>",
	Short: "Remove all indexed document chunks for a fund",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/funds/"+args[0]+"/embeddings")
		if err != nil {
			return err
		}

		var result struct {
			Removed int `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %d indexed chunks", result.Removed)
		return nil
	},
}

func formatMetric(key string, value float64) string {
	switch key {
	case "irr":
		return fmt.Sprintf("%.2f%%", value*100)
	case "dpi", "rvpi", "tvpi":
		return fmt.Sprintf("%.4fx", value)
	default:
		return fmt.Sprintf("%.2f", value)
	}
}

func init() {
	fundsCreateCmd.Flags().String("commitment", "", "total committed capital")
	fundsCreateCmd.Flags().String("nav", "", "current net asset value")
	fundsCmd.AddCommand(fundsCreateCmd)
	fundsCmd.AddCommand(fundsListCmd)
	fundsCmd.AddCommand(fundsMetricsCmd)
	fundsCmd.AddCommand(fundsClearCmd)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Inspect ingested documents",
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show processing status for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc struct {
			ID       string `json:"id"`
			FundID   string `json:"fund_id"`
			Filename string `json:"filename"`
			Format   string `json:"format"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Error    string `json:"error"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printStatus("Document", "%s", doc.ID)
		printStatus("Fund", "%s", doc.FundID)
		printStatus("File", "%s (%s)", doc.Filename, doc.Format)
		printStatus("Status", "%s (%d%%)", doc.Status, doc.Progress)
		if doc.Error != "" {
			printError("%s", doc.Error)
		}
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsShowCmd)
}
