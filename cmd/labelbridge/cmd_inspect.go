package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/archive"
	"github.com/campdesk/labelbridge/internal/compose"
	"github.com/campdesk/labelbridge/internal/extract"
	"github.com/campdesk/labelbridge/internal/invoice"
	"github.com/campdesk/labelbridge/internal/journal"
)

var (
	classifyText  bool
	historyLimit  int
	purgeDryRun   bool
	purgeOlderArg time.Duration
)

// classifyCmd shows what the rule table makes of a document.
var classifyCmd = &cobra.Command{
	Use:   "classify [file|-]",
	Short: "Classify a document or text from stdin and print the result",
	Long: `Extracts the text of a document (PDF, XLSX or plain text) and prints the
invoice fields, rule counts and the composed label code as JSON. Use "-" to
read plain text from stdin. Nothing is rendered, printed or archived.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

// rulesCmd lists the compiled rule table.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the compiled classification rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently processed documents from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete archived documents older than archive.retention",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyText, "text", false, "Also print the extracted text")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of documents to show")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Only list what would be deleted")
	purgeCmd.Flags().DurationVar(&purgeOlderArg, "older-than", 0, "Override archive.retention")

	rootCmd.AddCommand(classifyCmd, rulesCmd, historyCmd, purgeCmd)
}

type classifyOutput struct {
	Invoice     invoice.Fields `json:"invoice"`
	Counts      any            `json:"counts"`
	Flag        bool           `json:"flag"`
	Code        string         `json:"code"`
	PrintCount  int            `json:"print_count"`
	Blacklisted string         `json:"blacklisted,omitempty"`
	Text        string         `json:"text,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var text string
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		text = string(data)
	} else {
		var err error
		text, err = extract.NewDefault().Extract(ctx, args[0])
		if err != nil {
			return err
		}
	}

	a, err := buildApp(ctx, cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	c := a.pipeline.Classify(text)
	out := classifyOutput{
		Invoice:     c.Fields,
		Counts:      c.Match.Counts(),
		Flag:        c.Match.Flag,
		Code:        c.Output.Code,
		PrintCount:  c.Output.PrintCount,
		Blacklisted: c.Blacklisted,
	}
	if classifyText {
		out.Text = text
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func runRules(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(cfg, logger)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLABEL\tCATEGORY\tCOUNTING\tPATTERN\tIDENTIFIER\tANCHOR")
	for i, r := range rules.Rules() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, r.Label, r.Category, r.Counting, r.Pattern, dash(r.Identifier), dash(r.Anchor))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nflag label: %s\n", rules.FlagLabel())
	if skipped := rules.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped entries: %d\n", len(skipped))
	}

	// Round-trip the label list through the code parser so ambiguous labels
	// (one label a prefix of another followed by a digit) show up here.
	if _, err := compose.Parse(strings.Join(rules.Labels(), ""), rules.Labels(), rules.FlagLabel()); err != nil {
		logger.Warn("labels do not tokenize unambiguously", zap.Error(err))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Journal.Enabled {
		return errors.New("journal is disabled (journal.enabled: false)")
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
	}
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	docs, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tVS\tTO\tCODE\tCOPIES\tPRINTED\tSOURCE")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			d.CreatedAt.Local().Format("2006-01-02 15:04"), d.Status, dash(d.VariableSymbol),
			dash(d.ToDate), dash(d.Code), d.PrintCount, d.Printed, d.Source)
	}
	return tw.Flush()
}

func runPurge(cmd *cobra.Command, args []string) error {
	retention := cfg.Archive.Retention
	if purgeOlderArg > 0 {
		retention = purgeOlderArg
	}
	out := cmd.OutOrStdout()

	arc := archive.New(cfg.Folders.Archive, logger)
	if purgeDryRun {
		expired, err := arc.Expired(time.Now(), retention)
		for _, p := range expired {
			fmt.Fprintln(out, p)
		}
		return err
	}

	removed, err := arc.Purge(time.Now(), retention)
	for _, p := range removed {
		fmt.Fprintln(out, p)
	}
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
