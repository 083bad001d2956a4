package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		issuer, _ := cmd.Flags().GetString("issuer")
		productType, _ := cmd.Flags().GetString("product-type")
		out, _ := cmd.Flags().GetString("out")

		items, err := st.ListInstruments(ctx, store.InstrumentFilter{
			Issuer:      issuer,
			ProductType: productType,
		})
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to export.")
			return nil
		}

		f, err := buildWorkbook(items)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if err := f.Save(out); err != nil {
			return eris.Wrap(err, "export: save workbook")
		}

		zap.L().Info("export complete",
			zap.String("path", out),
			zap.Int("records", len(items)),
		)
		fmt.Fprintf(os.Stdout, "Wrote %d records to %s\n", len(items), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "instruments.xlsx", "output workbook path")
	exportCmd.Flags().String("issuer", "", "filter by issuer name substring")
	exportCmd.Flags().String("product-type", "", "filter by product type")
	rootCmd.AddCommand(exportCmd)
}

var exportHeader = []string{
	"ISIN", "Valor", "Product Name", "Product Type", "Issuer", "Currency",
	"Denomination", "Coupon % p.a.", "Coupon Frequency", "Maturity",
	"Initial Fixing", "Venue", "Underlyings", "Barrier Level",
	"Settlement", "Review Status", "Source", "Updated",
}

// buildWorkbook lays the records out one row per instrument.
func buildWorkbook(items []store.StoredInstrument) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Instruments")
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}

	for _, it := range items {
		row := sheet.AddRow()
		rec := it.Record
		if rec == nil {
			rec = model.NewInstrument()
		}

		row.AddCell().SetString(it.ISIN)
		row.AddCell().SetString(fieldString(rec.ValorNumber))
		row.AddCell().SetString(fieldString(rec.ProductName))
		row.AddCell().SetString(fieldString(rec.ProductType))
		row.AddCell().SetString(fieldString(rec.IssuerName))
		row.AddCell().SetString(fieldString(rec.Currency))
		setFloatCell(row.AddCell(), rec.Denomination)
		setFloatCell(row.AddCell(), rec.CouponRatePctPA)
		row.AddCell().SetString(fieldString(rec.CouponFrequency))
		row.AddCell().SetString(fieldString(rec.MaturityDate))
		row.AddCell().SetString(fieldString(rec.InitialFixingDate))
		row.AddCell().SetString(fieldString(rec.ListingVenue))
		row.AddCell().SetString(underlyingNames(rec.Underlyings))
		if len(rec.Underlyings) > 0 {
			setFloatCell(row.AddCell(), rec.Underlyings[0].BarrierLevel)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(fieldString(rec.SettlementType))
		row.AddCell().SetString(it.ReviewStatus)
		row.AddCell().SetString(it.SourceKind)
		row.AddCell().SetString(it.UpdatedAt.Format("2006-01-02 15:04"))
	}

	return f, nil
}

func fieldString(f model.Field[string]) string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

func setFloatCell(cell *xlsx.Cell, f model.Field[float64]) {
	if f.Value == nil {
		cell.SetString("")
		return
	}
	cell.SetFloat(*f.Value)
}

func underlyingNames(us []model.Underlying) string {
	var names []string
	for _, u := range us {
		if u.Name.Value != nil {
			names = append(names, *u.Name.Value)
		}
	}
	return strings.Join(names, ", ")
}
