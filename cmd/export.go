package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/normalize"
)

var exportOutPath string

// exportFields is the column order of the workbook.
var exportFields = []model.FieldName{
	model.FieldTitle,
	model.FieldAuthor,
	model.FieldISBN,
	model.FieldLCCN,
	model.FieldClass,
	model.FieldPublisher,
	model.FieldPubYear,
	model.FieldSeriesName,
	model.FieldSeriesVolume,
	model.FieldSubjects,
	model.FieldDescription,
	model.FieldPhysicalDesc,
	model.FieldPrice,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export canonical records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		file := xlsx.NewFile()
		sheet, err := file.AddSheet("Catalog")
		if err != nil {
			return eris.Wrap(err, "export: add sheet")
		}

		header := sheet.AddRow()
		header.AddCell().Value = "barcode"
		header.AddCell().Value = "shelf_title"
		for _, field := range exportFields {
			header.AddCell().Value = string(field)
		}
		header.AddCell().Value = "conflicts"

		const pageSize = 500
		exported := 0
		for offset := 0; ; offset += pageSize {
			records, err := st.ListCanonicalRecords(ctx, pageSize, offset)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				break
			}
			for _, rec := range records {
				row := sheet.AddRow()
				row.AddCell().Value = rec.ItemID
				row.AddCell().Value = shelfTitle(rec.Fields[model.FieldTitle].Value)
				conflicts := 0
				for _, field := range exportFields {
					fv := rec.Fields[field]
					row.AddCell().Value = fv.Value
					if fv.Conflict {
						conflicts++
					}
				}
				row.AddCell().SetInt(conflicts)
				exported++
			}
			if len(records) < pageSize {
				break
			}
		}

		if err := file.Save(exportOutPath); err != nil {
			return eris.Wrapf(err, "export: save %s", exportOutPath)
		}

		zap.L().Info("export complete",
			zap.Int("records", exported),
			zap.String("path", exportOutPath),
		)
		return nil
	},
}

// shelfTitle formats a title for shelf sorting: MLA capitalization with the
// leading article rotated to the end ("the hobbit" -> "Hobbit, The").
func shelfTitle(title string) string {
	if title == "" {
		return ""
	}
	return normalize.CleanTitle(normalize.CapitalizeTitleMLA(title))
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "catalog.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}
