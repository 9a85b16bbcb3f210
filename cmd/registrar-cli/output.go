package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/registrar-office/registrar-engine/pkg/models"
)

// maxFailureRows caps the failures echoed to the terminal; the outcome
// workbook always has all of them.
const maxFailureRows = 20

// printResult writes v as JSON when --json is set, otherwise calls render.
func printResult(v any, render func()) error {
	if !jsonOutput {
		render()
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	return table
}

func renderPreview(w io.Writer, p *models.ImportPreview) {
	fmt.Fprintf(w, "%s %s (sheet %q, %d rows)\n", color.CyanString("Preview"), p.RecordType, p.Sheet, p.Total)

	table := newTable(w, "Column", "Header", "Field", "Match")
	for _, c := range p.Columns {
		table.Append([]string{strconv.Itoa(c.Index + 1), c.Header, c.Field, c.Method})
	}
	table.Render()

	if len(p.UnmatchedHeaders) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("Ignored headers:"), strings.Join(p.UnmatchedHeaders, ", "))
	}
	if len(p.MissingRequiredFields) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.RedString("Missing required fields:"), strings.Join(p.MissingRequiredFields, ", "))
	}
}

func renderImportResult(w io.Writer, r *models.ImportResult) {
	status := color.GreenString(r.Status)
	switch r.Status {
	case models.ImportStatusCanceled:
		status = color.YellowString(r.Status)
	case models.ImportStatusFailed:
		status = color.RedString(r.Status)
	}
	fmt.Fprintf(w, "Import %s: %s\n", r.RecordType, status)

	table := newTable(w, "Processed", "Inserted", "Updated", "Unchanged", "Failed", "Before", "After", "Delta")
	table.Append([]string{
		fmt.Sprintf("%d/%d", r.Processed, r.Total),
		strconv.Itoa(r.Inserted),
		strconv.Itoa(r.Updated),
		strconv.Itoa(r.Unchanged),
		strconv.Itoa(r.Failed),
		strconv.FormatInt(r.Before, 10),
		strconv.FormatInt(r.After, 10),
		fmt.Sprintf("%+d", r.Delta),
	})
	table.Render()

	if r.Error != "" {
		fmt.Fprintf(w, "%s %s\n", color.RedString("Error:"), r.Error)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w, color.RedString("Failed rows:"))
		failures := newTable(w, "Row", "Reason")
		for i, f := range r.Failures {
			if i == maxFailureRows {
				break
			}
			failures.Append([]string{strconv.Itoa(f.Row), f.Reason})
		}
		failures.Render()
		if len(r.Failures) > maxFailureRows {
			fmt.Fprintf(w, "... and %d more\n", len(r.Failures)-maxFailureRows)
		}
	}
	if len(r.DuplicateKeys) > 0 {
		fmt.Fprintln(w, color.YellowString("Rows sharing a composite key:"))
		dups := newTable(w, "Key", "Count", "Rows")
		for _, d := range r.DuplicateKeys {
			dups.Append([]string{d.Key, strconv.Itoa(d.Count), joinInts(d.Rows)})
		}
		dups.Render()
	}
	renderLogURL(w, r.LogURL)
}

func renderDuplicates(w io.Writer, r *models.DuplicateReport) {
	mode := "normalized"
	if !r.Normalized {
		mode = "exact"
	}
	if len(r.Groups) == 0 {
		fmt.Fprintf(w, "%s no duplicate %s records (%s match on %s)\n",
			color.GreenString("OK:"), r.RecordType, mode, strings.Join(r.KeyFields, ", "))
		return
	}
	fmt.Fprintf(w, "%s duplicate groups of %s (%s match on %s)\n",
		color.YellowString(strconv.Itoa(len(r.Groups))), r.RecordType, mode, strings.Join(r.KeyFields, ", "))

	table := newTable(w, "Key", "Count", "IDs")
	for _, g := range r.Groups {
		ids := make([]int64, len(g.Members))
		for i, m := range g.Members {
			ids[i] = m.ID
		}
		table.Append([]string{strings.Join(g.Key, " | "), strconv.Itoa(g.Count), joinInt64s(ids)})
	}
	table.Render()
	renderLogURL(w, r.LogURL)
}

func renderMismatches(w io.Writer, r *models.MismatchReport) {
	if len(r.Mismatches) == 0 {
		fmt.Fprintf(w, "%s every %s.%s resolves in %s\n", color.GreenString("OK:"), r.RecordType, r.Field, r.ReferencedTable)
		return
	}
	fmt.Fprintf(w, "%s %s records reference a missing %s\n",
		color.RedString(strconv.Itoa(len(r.Mismatches))), r.RecordType, r.ReferencedTable)

	table := newTable(w, "ID", r.Field)
	for _, m := range r.Mismatches {
		table.Append([]string{strconv.FormatInt(m.ID, 10), m.Value})
	}
	table.Render()
	renderLogURL(w, r.LogURL)
}

func renderPrune(w io.Writer, r *models.PruneResult) {
	if r.DryRun {
		fmt.Fprintf(w, "%s %d groups, %d records would be deleted (re-run with --apply)\n",
			color.YellowString("Dry run:"), r.Groups, len(r.ToDelete))
	} else {
		fmt.Fprintf(w, "%s %d groups, %d records deleted\n", color.GreenString("Pruned:"), r.Groups, r.Deleted)
	}

	table := newTable(w, "Kept", "Deleted")
	table.Append([]string{joinInt64s(r.Kept), joinInt64s(r.ToDelete)})
	table.Render()
	renderLogURL(w, r.LogURL)
}

func renderExport(w io.Writer, r *models.ExportResult) {
	fmt.Fprintf(w, "%s %d %s records\n", color.GreenString("Exported"), r.Rows, r.RecordType)
	renderLogURL(w, r.LogURL)
}

func renderRecordTypes(w io.Writer, schemas []*models.RecordSchema) {
	table := newTable(w, "Type", "Table", "Required", "Match Keys", "Reference")
	for _, s := range schemas {
		keys := []string{s.NaturalKey.IDField}
		if s.NaturalKey.SerialField != "" {
			keys = append(keys, s.NaturalKey.SerialField)
		}
		if len(s.NaturalKey.Composite) > 0 {
			keys = append(keys, strings.Join(s.NaturalKey.Composite, "+"))
		}
		ref := ""
		if s.Reference != nil {
			ref = s.Reference.Field + " -> " + s.Reference.Table + "." + s.Reference.Column
		}
		table.Append([]string{s.Key, s.Table, strings.Join(s.RequiredFields(), ", "), strings.Join(keys, ", "), ref})
	}
	table.Render()
}

func renderLogURL(w io.Writer, url string) {
	if url != "" {
		fmt.Fprintf(w, "Log: %s\n", url)
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func joinInt64s(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ", ")
}
