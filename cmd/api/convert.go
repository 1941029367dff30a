package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"configdeck/api/internal/export"
)

func getConvertCmd(fs afero.Fs) *cobra.Command {
	var output string

	convertCmd := &cobra.Command{
		Use:   "convert <input.json>",
		Short: "Convert a JSON array of records to an xlsx workbook",
		Long: `Convert a JSON array of flat records to a single-sheet xlsx workbook.

Columns are the union of record keys in first-seen order. Input that is not an
array produces an empty sheet.`,
		Example: `
  # Writes records.xlsx next to the input.
  configdeck convert records.json

  # Choose the output file.
  configdeck convert -o /tmp/out.xlsx records.json`[1:],
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			payload, err := afero.ReadFile(fs, input)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			result, err := export.Spreadsheet(filepath.Base(input), payload)
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = strings.TrimSuffix(input, filepath.Ext(input)) + ".xlsx"
			}
			if err := afero.WriteFile(fs, target, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}

	convertCmd.Flags().SortFlags = false
	convertCmd.Flags().StringVarP(&output, "output", "o", output, "xlsx output filename (input name with .xlsx by default)")
	return convertCmd
}
