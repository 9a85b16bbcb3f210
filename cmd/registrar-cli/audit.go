package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/registrar-office/registrar-engine/pkg/app"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
)

var (
	duplicatesExact bool
	pruneApply      bool
	pruneKeepOne    bool
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates <record-type>",
	Short: "List stored records that share an audit key",
	Long: `Group stored records by the record type's audit key and list every group
with more than one member. Keys are compared case and space insensitively
unless --exact is given. The groups are also written to a workbook.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *app.Engine) error {
			report, err := engine.Auditor.FindDuplicates(cmd.Context(), args[0], !duplicatesExact)
			if err != nil {
				return err
			}
			return printResult(report, func() { renderDuplicates(os.Stdout, report) })
		})
	},
}

var mismatchesCmd = &cobra.Command{
	Use:   "mismatches <record-type>",
	Short: "List stored records whose reference does not resolve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *app.Engine) error {
			report, err := engine.Auditor.FindReferenceMismatches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(report, func() { renderMismatches(os.Stdout, report) })
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune <record-type>",
	Short: "Delete duplicate records, keeping the best member of each group",
	Long: `Within each duplicate group, records carrying a secondary identifier are
kept and the rest are deleted. Groups without any such record are left alone
unless --keep-one is given, in which case the lowest id survives.

Nothing is deleted without --apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *app.Engine) error {
			result, err := engine.Auditor.PruneDuplicates(cmd.Context(), args[0], models.PruneOptions{
				DryRun:  !pruneApply,
				KeepOne: pruneKeepOne,
			})
			if err != nil {
				return err
			}
			return printResult(result, func() { renderPrune(os.Stdout, result) })
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <record-type>",
	Short: "Write every stored record of a type to a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *app.Engine) error {
			result, err := engine.Exports.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(result, func() { renderExport(os.Stdout, result) })
		})
	},
}

var recordTypesCmd = &cobra.Command{
	Use:   "record-types",
	Short: "List the record types the importer accepts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadFile(cfg.Import.SchemaFile)
		if err != nil {
			return err
		}
		schemas := reg.List()
		return printResult(schemas, func() { renderRecordTypes(os.Stdout, schemas) })
	},
}

func init() {
	duplicatesCmd.Flags().BoolVar(&duplicatesExact, "exact", false, "Compare keys exactly instead of normalized")
	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false, "Delete the records instead of reporting them")
	pruneCmd.Flags().BoolVar(&pruneKeepOne, "keep-one", false, "Keep the lowest id in groups without a secondary identifier")
}
