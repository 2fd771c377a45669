package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/otms-autofill/otms-autofill/internal/config"
	"github.com/otms-autofill/otms-autofill/internal/mapping"
	"github.com/otms-autofill/otms-autofill/internal/observability"
	"github.com/otms-autofill/otms-autofill/internal/sheet"
)

func newRowsCmd() *cobra.Command {
	rowsCmd := &cobra.Command{
		Use:   "rows",
		Short: "List the rows of the data file by key and name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			table, err := loadTable(cfg)
			if err != nil {
				return err
			}
			keys, err := table.Keys(cfg.Data.KeyColumn)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "%s\tNAME\n", cfg.Data.KeyColumn)
			for _, k := range keys {
				rec, err := table.Find(cfg.Data.KeyColumn, k)
				if err != nil {
					return err
				}
				name, _ := rec.First(mapping.PersonNameColumns...)
				fmt.Fprintf(w, "%s\t%s\n", k, name)
			}
			return w.Flush()
		},
	}

	rowsCmd.Flags().StringP("file", "f", "", "Spreadsheet holding the person records (.xlsx, .xls or .csv)")
	rowsCmd.Flags().String("sheet", "", "Worksheet to read (default: the first)")
	rowsCmd.Flags().String("key-column", "", "Column identifying a row (default: Sr.No)")
	bindFlag(rowsCmd, "file", "data.file")
	bindFlag(rowsCmd, "sheet", "data.sheet")
	bindFlag(rowsCmd, "key-column", "data.key_column")
	return rowsCmd
}

func loadTable(cfg *config.Config) (*sheet.Table, error) {
	if cfg.Data.File == "" {
		return nil, errors.New("no data file given: pass --file or set data.file")
	}
	table, err := sheet.Load(cfg.Data.File, cfg.Data.Sheet)
	if err != nil {
		return nil, err
	}
	observability.GetLogger().Debug("Data file loaded.",
		zap.String("file", cfg.Data.File),
		zap.Int("rows", len(table.Records())))
	return table, nil
}

func loadMapping(cfg *config.Config) (*mapping.FieldMapping, error) {
	if cfg.Form.MappingFile == "" {
		return mapping.Default(), nil
	}
	return mapping.Load(cfg.Form.MappingFile)
}
