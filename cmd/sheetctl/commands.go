package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/report"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// maxListedErrors caps the row errors printed after a preview or import.
const maxListedErrors = 20

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List importable entities with their record counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		ents, err := engine.Entities(cmd.Context())
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Entity", "Display name", "Columns", "Records", "Search fields"}}
		for _, e := range ents {
			data = append(data, []string{
				e.Name,
				e.DisplayName,
				strconv.Itoa(e.ColumnCount),
				strconv.Itoa(e.RecordCount),
				strings.Join(e.SearchFields, ", "),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var templateCmd = &cobra.Command{
	Use:   "template <entity>",
	Short: "Write the import workbook for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noSamples, _ := cmd.Flags().GetBool("no-samples")
		out, _ := cmd.Flags().GetString("output")

		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		f, err := engine.Template(cmd.Context(), args[0], !noSamples)
		if err != nil {
			return err
		}
		return writeOutput(out, f)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <entity> <file>",
	Short: "Analyse a file without importing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		res, err := engine.Preview(cmd.Context(), args[0], filepath.Base(args[1]), data)
		if err != nil {
			return explain(err)
		}
		printPreview(res)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <entity> <file>",
	Short: "Import a .xlsx, .xls or .csv file",
	Long: `Import a spreadsheet into an entity.

Rows matching a stored record on the entity's unique fields are rejected
unless --skip-duplicates or --update-existing is given. --strict stops at
the first failing row.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts core.ImportOptions
		opts.SkipDuplicates, _ = cmd.Flags().GetBool("skip-duplicates")
		opts.UpdateExisting, _ = cmd.Flags().GetBool("update-existing")
		opts.Strict, _ = cmd.Flags().GetBool("strict")
		opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")

		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Importing " + args[0]).Start()
		opts.Progress = progressTo(bar)

		res, err := engine.Import(commandContext(cmd), args[0], filepath.Base(args[1]), data, opts)
		if bar != nil {
			_, _ = bar.Stop()
		}
		if err != nil {
			return explain(err)
		}
		printImport(res)
		if res.FailedCount > 0 && opts.Strict {
			return errors.Newf("import stopped after %d failed rows", res.FailedCount)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <entity>",
	Short: "Export records as a workbook or PDF report",
	Long: `Export records matching the given filters.

Filters take the form field=op:value, where op is one of
eq neq contains starts ends gt gte lt lte in. A bare value means eq.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := exportRequest(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("output")

		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		var (
			f   *application.File
			sum report.Summary
		)
		switch strings.ToLower(format) {
		case "xlsx":
			f, sum, err = engine.Export(cmd.Context(), args[0], req)
		case "pdf":
			f, sum, err = engine.ExportPDF(cmd.Context(), args[0], req)
		default:
			return errors.Newf("unknown format %q (use xlsx or pdf)", format)
		}
		if err != nil {
			return explain(err)
		}
		if err := writeOutput(out, f); err != nil {
			return err
		}
		if sum.Truncated() {
			pterm.Warning.Printfln("%d of %d matching records exported; raise --limit for the rest", sum.Total, sum.Matching)
			return nil
		}
		pterm.Info.Printfln("%d records exported", sum.Total)
		return nil
	},
}

func init() {
	templateCmd.Flags().StringP("output", "o", "", "Output path (default <entity>_template.xlsx)")
	templateCmd.Flags().Bool("no-samples", false, "Leave out the sample rows")

	importCmd.Flags().Bool("skip-duplicates", false, "Skip rows that match a stored record")
	importCmd.Flags().Bool("update-existing", false, "Update stored records that match a row")
	importCmd.Flags().Bool("strict", false, "Stop at the first failing row")
	importCmd.Flags().Int("batch-size", 0, "Rows per chunk (0 uses IMPORT_BATCH_SIZE)")

	exportCmd.Flags().StringP("output", "o", "", "Output path (default generated from the entity and time)")
	exportCmd.Flags().String("format", "xlsx", "xlsx or pdf")
	exportCmd.Flags().StringArrayP("filter", "f", nil, "Filter as field=op:value (repeatable)")
	exportCmd.Flags().String("search", "", "Text matched against the entity's search fields")
	exportCmd.Flags().String("sort", "", "Field to sort by")
	exportCmd.Flags().Bool("desc", false, "Sort descending")
	exportCmd.Flags().Int("limit", 0, "Maximum records (0 uses EXPORT_DEFAULT_LIMIT)")
	exportCmd.Flags().Bool("no-summary", false, "Leave out the summary sheet")
}

// exportRequest builds the request from the export flags.
func exportRequest(cmd *cobra.Command) (report.ExportRequest, error) {
	var req report.ExportRequest
	exprs, _ := cmd.Flags().GetStringArray("filter")
	for _, expr := range exprs {
		f, err := parseFilterFlag(expr)
		if err != nil {
			return req, err
		}
		req.Filters = append(req.Filters, f)
	}
	req.Search, _ = cmd.Flags().GetString("search")
	req.SortField, _ = cmd.Flags().GetString("sort")
	req.SortDesc, _ = cmd.Flags().GetBool("desc")
	req.Limit, _ = cmd.Flags().GetInt("limit")
	noSummary, _ := cmd.Flags().GetBool("no-summary")
	req.IncludeSummary = !noSummary
	return req, nil
}

// parseFilterFlag parses field=op:value.
func parseFilterFlag(expr string) (store.Filter, error) {
	field, value, ok := strings.Cut(expr, "=")
	if !ok || field == "" {
		return store.Filter{}, errors.Newf("invalid filter %q: want field=op:value", expr)
	}
	return store.ParseFilter(strings.TrimSpace(field), value)
}

// progressTo advances bar to the import's byte progress.
func progressTo(bar *pterm.ProgressbarPrinter) core.ProgressCallback {
	if bar == nil {
		return nil
	}
	last := 0
	return func(p core.ImportProgress) {
		pct := p.Percent()
		if pct > 100 {
			pct = 100
		}
		if pct > last {
			bar.Add(pct - last)
			last = pct
		}
		bar.UpdateTitle("Importing " + p.Entity + " (" + strconv.Itoa(p.Processed) + " rows)")
	}
}

func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func writeOutput(path string, f *application.File) error {
	if path == "" {
		path = f.Name
	}
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	pterm.Success.Printfln("Wrote %s (%d bytes)", path, len(f.Data))
	return nil
}

// explain turns engine errors into the user-facing message, keeping any hints.
func explain(err error) error {
	msg := core.MapError(err)
	if msg.Code == "" || msg.Code == "ERR000" {
		return err
	}
	for _, h := range errors.GetAllHints(err) {
		pterm.Warning.Println(h)
	}
	text := msg.Message + " [" + msg.Code + "]"
	if msg.Action != "" {
		text += ": " + msg.Action
	}
	return errors.New(text)
}

func printPreview(res *core.PreviewResult) {
	pterm.DefaultSection.Printfln("Preview of %s", res.Entity)
	pterm.Printfln("  Rows:              %d", res.TotalRows)
	pterm.Printfln("  Valid:             %d", res.ValidRows)
	pterm.Printfln("  Invalid:           %d", res.InvalidRows)
	pterm.Printfln("  Already stored:    %d", res.DuplicateRows)
	pterm.Printfln("  Repeated in file:  %d", res.DuplicateInFile)
	if res.Truncated {
		pterm.Warning.Println("Row details were truncated")
	}

	var errs []core.RowError
	for _, row := range res.Rows {
		errs = append(errs, row.Errors...)
	}
	printRowErrors(errs)
}

func printImport(res *core.ImportResult) {
	switch {
	case res.Cancelled:
		pterm.Warning.Printfln("Import %s cancelled", res.ImportID)
	case res.FailedCount > 0:
		pterm.Warning.Printfln("Import %s finished with %d failed rows", res.ImportID, res.FailedCount)
	default:
		pterm.Success.Printfln("Import %s finished", res.ImportID)
	}
	pterm.Printfln("  Rows:      %d", res.TotalRows)
	pterm.Printfln("  Created:   %d", res.Created)
	pterm.Printfln("  Updated:   %d", res.Updated)
	pterm.Printfln("  Skipped:   %d", res.Skipped)
	pterm.Printfln("  Rejected:  %d", res.Rejected)
	pterm.Printfln("  Time:      %s", res.Duration.Round(time.Millisecond))
	printRowErrors(res.DetailedErrors)
}

func printRowErrors(errs []core.RowError) {
	if len(errs) == 0 {
		return
	}
	data := pterm.TableData{{"Row", "Column", "Problem", "Fix"}}
	for i, e := range errs {
		if i == maxListedErrors {
			break
		}
		data = append(data, []string{strconv.Itoa(e.Row), e.Column, e.Message, e.Action})
	}
	pterm.Println()
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	if len(errs) > maxListedErrors {
		pterm.Info.Printfln("%d more errors not shown", len(errs)-maxListedErrors)
	}
}
