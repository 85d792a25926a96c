package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/campdesk/labelbridge/internal/pipeline"
)

var (
	processPrint bool
	processJSON  bool
)

// processCmd runs documents through the pipeline once, leaving them in place.
var processCmd = &cobra.Command{
	Use:   "process [file...]",
	Short: "Classify documents and render their labels without archiving them",
	Long: `Runs each file through extraction, classification and label rendering.
Files are never moved. Labels are printed only with --print.

Example:
  labelbridge process --print ./data/input/240815.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processPrint, "print", false, "Send the labels to the printer")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Write results as JSON lines")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger, buildOptions{print: processPrint, events: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		res, err := processFile(cmd, a.pipeline, path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			if res == nil {
				continue
			}
		}
		if processJSON {
			if err := json.NewEncoder(out).Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "%s\t%s\tvs=%s\tcode=%q\tcopies=%d\tprinted=%d\n",
			filepath.Base(path), res.Document.Status, res.Fields.VariableSymbol,
			res.Output.Code, res.Output.PrintCount, res.Document.Printed)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

func processFile(cmd *cobra.Command, p *pipeline.Pipeline, path string) (*pipeline.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return p.ProcessUpload(cmd.Context(), path, f, info.Size(), processPrint)
}
