package cmd

import (
	"github.com/spf13/cobra"
)

func newMappingCmd() *cobra.Command {
	mappingCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Print the field mapping in effect as YAML",
		Long: `Prints the form labels, their kinds and the spreadsheet columns they are
filled from, followed by the documents uploaded for each person. Save the
output, edit it, and pass it back with --mapping to change what is filled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			m, err := loadMapping(cfg)
			if err != nil {
				return err
			}
			return m.WriteYAML(cmd.OutOrStdout())
		},
	}

	mappingCmd.Flags().String("mapping", "", "Field mapping file to print instead of the built-in one")
	bindFlag(mappingCmd, "mapping", "form.mapping_file")
	return mappingCmd
}
