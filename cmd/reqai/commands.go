package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/config"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/storage"
)

type extractResponse struct {
	Results extraction.Result `json:"results"`
	Warning string            `json:"warning,omitempty"`
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <file>...",
	Short: "Upload documents and extract their text",
	Long: `Upload documents to the running server and extract their text.

Examples:
  reqai extract ./brief.pdf
  reqai extract ./notes.md ./minutes.docx --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postFiles(cmd.Context(), "/api/extract-text", args)
		if err != nil {
			return err
		}

		var out extractResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Warning != "" {
			printWarning("%s", out.Warning)
		}
		if asJSON {
			return writeIndented(cmd.OutOrStdout(), out.Results)
		}
		printResults(cmd.OutOrStdout(), out.Results)
		printSuccess("Extracted %d file(s)", len(out.Results))
		return nil
	},
}

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the latest extraction results",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/extraction-results")
		if err != nil {
			return err
		}

		var res extraction.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if asJSON {
			return writeIndented(cmd.OutOrStdout(), res)
		}
		printResults(cmd.OutOrStdout(), res)
		return nil
	},
}

func printResults(w io.Writer, res extraction.Result) {
	names := make([]string, 0, len(res))
	for name := range res {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fr := res[name]
		fmt.Fprintf(w, "%s  %s  %d chars\n", colorize(colorBold, name), fr.FileType, len([]rune(fr.ExtractedText)))
		if preview := firstLine(fr.ExtractedText, 100); preview != "" {
			fmt.Fprintf(w, "  %s\n", preview)
		}
	}
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

// --- backlog ---

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Generate and export the Jira backlog",
}

var backlogGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Structure requirement text into epics, stories, tasks and sub-tasks",
	Long: `Structure requirement text into a backlog.

Without --text or --file the latest extraction results are used.

Examples:
  reqai backlog generate
  reqai backlog generate --file ./requirements.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		if text != "" && file != "" {
			return fmt.Errorf("--text and --file are mutually exclusive")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var body any
		if text != "" {
			body = map[string]string{"text": text}
		}
		resp, err := client.post(cmd.Context(), "/api/backlog", body)
		if err != nil {
			return err
		}

		var out struct {
			Counts backlog.Counts `json:"counts"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		c := out.Counts
		printSuccess("Generated %d item(s)", c.Total)
		printStatus("Epics", "%d", c.Epics)
		printStatus("Stories", "%d", c.Stories)
		printStatus("Tasks", "%d", c.Tasks)
		printStatus("Sub-tasks", "%d", c.Subtasks)
		if c.Orphans > 0 {
			printWarning("%d item(s) reference a parent that does not exist", c.Orphans)
		}
		return nil
	},
}

var backlogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the latest backlog",
	Long: `Export the latest generated backlog.

Examples:
  reqai backlog export --view tree --format yaml
  reqai backlog export --format json --output backlog.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, _ := cmd.Flags().GetString("view")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		if _, err := backlog.ParseView(view); err != nil {
			return err
		}
		if _, err := backlog.ParseFormat(format); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{"view": {view}, "format": {format}}
		resp, err := client.get(cmd.Context(), "/api/backlog/export?"+q.Encode())
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}

		if output == "" {
			_, err := io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess("Exported backlog to %s", output)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded assistant replies",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening response log: %w", err)
		}
		defer store.Close()

		responses, err := store.RecentResponses(session, limit)
		if err != nil {
			return err
		}
		if len(responses) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No replies recorded.")
			return nil
		}
		printHistory(cmd.OutOrStdout(), responses)
		return nil
	},
}

func printHistory(w io.Writer, responses []storage.Response) {
	for _, r := range responses {
		source := r.Model
		if r.Fallback {
			source = "fallback"
		}
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			colorize(colorCyan, r.ID[:min(8, len(r.ID))]),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Kind,
			source,
		)
		if r.UserMessage != "" {
			fmt.Fprintf(w, "  > %s\n", firstLine(r.UserMessage, 80))
		}
		fmt.Fprintf(w, "  %s\n", firstLine(r.Reply, 80))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage reqai configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (API key, client secret) in the secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().Bool("json", false, "print the raw results as JSON")
	resultsCmd.Flags().Bool("json", false, "print the raw results as JSON")

	backlogGenerateCmd.Flags().String("text", "", "requirement text to structure")
	backlogGenerateCmd.Flags().String("file", "", "read requirement text from a file")
	backlogExportCmd.Flags().String("view", "flat", "export view: flat, tree or raw")
	backlogExportCmd.Flags().String("format", "json", "export format: json or yaml")
	backlogExportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	backlogCmd.AddCommand(backlogGenerateCmd)
	backlogCmd.AddCommand(backlogExportCmd)

	historyCmd.Flags().String("session", "", "only show replies from this chat session")
	historyCmd.Flags().Int("limit", 20, "maximum number of replies")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
