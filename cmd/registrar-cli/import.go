package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/registrar-office/registrar-engine/pkg/app"
	"github.com/registrar-office/registrar-engine/pkg/models"
)

const progressInterval = 500 * time.Millisecond

var (
	importSheet       string
	importLooseMatch  bool
	importPreviewOnly bool
)

var importCmd = &cobra.Command{
	Use:   "import <record-type> <file>",
	Short: "Import a spreadsheet into a record table",
	Long: `Preview a spreadsheet, then reconcile every row against the stored records.

Rows that match an existing record update only the cells that are filled in.
Unmatched rows are inserted. The outcome workbook path is printed when done.
Interrupting the command cancels the run before its next row.

Examples:
  registrar-cli import degree convocation-12.xlsx
  registrar-cli import enrollment batch.csv --preview
  registrar-cli import degree late.xlsx --sheet "Batch 2" --loose-match`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordType, path := args[0], args[1]
		return withEngine(cmd.Context(), func(engine *app.Engine) error {
			return runImport(cmd.Context(), engine, recordType, path)
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "Worksheet to import (default: first sheet)")
	importCmd.Flags().BoolVar(&importLooseMatch, "loose-match", false, "Match on the first composite key field when the full key finds nothing")
	importCmd.Flags().BoolVar(&importPreviewOnly, "preview", false, "Only show the header mapping and sample rows")
}

func runImport(ctx context.Context, engine *app.Engine, recordType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	preview, err := engine.Imports.Preview(ctx, recordType, filepath.Base(path), f, importSheet)
	if err != nil {
		return err
	}
	if importPreviewOnly || len(preview.MissingRequiredFields) > 0 {
		if err := printResult(preview, func() { renderPreview(os.Stdout, preview) }); err != nil {
			return err
		}
		if !importPreviewOnly {
			return fmt.Errorf("cannot import %s: required columns missing", filepath.Base(path))
		}
		return nil
	}
	if !jsonOutput {
		renderPreview(os.Stdout, preview)
	}

	// The run itself ignores ctx cancellation; an interrupt asks the
	// tracker to stop so the outcome log is still written.
	done, stopped := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(stopped)
		watchProgress(ctx, engine, preview.SessionID, done)
	}()

	result, err := engine.Imports.Run(context.WithoutCancel(ctx), recordType, preview.SessionID, models.ImportOptions{
		Sheet:      preview.Sheet,
		LooseMatch: importLooseMatch,
	})
	close(done)
	<-stopped
	if !jsonOutput {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}
	return printResult(result, func() { renderImportResult(os.Stdout, result) })
}

func watchProgress(ctx context.Context, engine *app.Engine, sessionID string, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			if engine.Imports.Cancel(sessionID) {
				fmt.Fprintln(os.Stderr, color.YellowString("Cancel requested, stopping before the next row..."))
			}
			<-done
			return
		case <-ticker.C:
			if jsonOutput {
				continue
			}
			p, err := engine.Imports.Progress(sessionID)
			if err != nil || p.Done {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r%3d%%  %d/%d rows", p.Percent, p.Processed, p.Total)
		}
	}
}
