package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/syncclient"
)

func getImportCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Imports churches from a CSV or XLSX file",
		Long: `Uploads FILE to POST /churches/import.

The file needs the columns name, diocese and country_iso; address and
image_url are optional. Every row is validated before anything is written:
a single bad row rejects the whole file and every problem is listed with
its line number.

Examples:
  lilyctl import churches.csv
  lilyctl import churches.xlsx --user admin-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer file.Close()

			report, err := global.client(global.logger()).Import(cmd.Context(), filepath.Base(path), file)
			if err != nil {
				printImportError(cmd.ErrOrStderr(), err)
				return err
			}
			printImportReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	return cmd
}

func printImportReport(out io.Writer, report *models.ImportReport) {
	fmt.Fprintf(out, "Imported %s of %s %s rows.\n",
		humanize.Comma(int64(report.Inserted)), humanize.Comma(int64(report.Rows)), report.Format)
}

// printImportError lists the per-row issues of a rejected file.
func printImportError(out io.Writer, err error) {
	var apiErr *syncclient.Error
	if !errors.As(err, &apiErr) || len(apiErr.Details) == 0 {
		return
	}
	fmt.Fprintf(out, "The file was rejected, nothing was imported (%s problem(s)):\n", humanize.Comma(int64(len(apiErr.Details))))
	for _, detail := range apiErr.Details {
		fmt.Fprintf(out, "  - %s\n", detail)
	}
}
