package report

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/store"
)

const (
	defaultSheet     = "Sheet1"
	instructionsName = "Instructions"
	summaryName      = "Summary"

	// validationRows is how far down the template's drop-downs reach.
	validationRows = 1000
	colWidth       = 20
)

var (
	headerFill   = "#305496"
	requiredFill = "#C00000"
	stripeFills  = [2]string{"#FFFFFF", "#F2F2F2"}
	borderColor  = "#D9D9D9"
	dateFormat   = "yyyy-mm-dd"
	stampFormat  = "yyyy-mm-dd hh:mm"
)

// sheetName makes title safe to use as a worksheet name.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return ' '
		}
		return r
	}, title)
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	if name == "" || strings.EqualFold(name, summaryName) || strings.EqualFold(name, instructionsName) {
		name = "Data"
	}
	return name
}

func borders() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: borderColor, Style: 1},
		{Type: "right", Color: borderColor, Style: 1},
		{Type: "top", Color: borderColor, Style: 1},
		{Type: "bottom", Color: borderColor, Style: 1},
	}
}

func headerStyle(f *excelize.File, fill string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    borders(),
	})
}

// bodyStyles holds one style per cell kind and row parity.
type bodyStyles struct {
	text, number, date, stamp [2]int
}

func newBodyStyles(f *excelize.File) (bodyStyles, error) {
	var s bodyStyles
	for i, fill := range stripeFills {
		base := func() *excelize.Style {
			return &excelize.Style{
				Fill:   excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
				Border: borders(),
			}
		}
		var err error
		if s.text[i], err = f.NewStyle(base()); err != nil {
			return s, err
		}
		num := base()
		num.Alignment = &excelize.Alignment{Horizontal: "right"}
		if s.number[i], err = f.NewStyle(num); err != nil {
			return s, err
		}
		date := base()
		date.CustomNumFmt = &dateFormat
		if s.date[i], err = f.NewStyle(date); err != nil {
			return s, err
		}
		stamp := base()
		stamp.CustomNumFmt = &stampFormat
		if s.stamp[i], err = f.NewStyle(stamp); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s bodyStyles) pick(col core.ExportColumn, row int) int {
	p := row % 2
	switch {
	case isAuditTime(col.Field):
		return s.stamp[p]
	case col.Ref != nil:
		return s.text[p]
	case col.Type == core.TypeDate:
		return s.date[p]
	case col.Type == core.TypeNumber:
		return s.number[p]
	}
	return s.text[p]
}

// TemplateOptions controls template rendering.
type TemplateOptions struct {
	IncludeSamples bool
}

// Template renders an import workbook for schema: a styled, frozen header
// row on the first sheet, optional sample rows, drop-downs for enumerated
// columns, and an Instructions sheet. Importing a template filled with the
// schema's own samples succeeds for every row.
func Template(schema *core.ColumnSchema, opts TemplateOptions) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(schema.DisplayName)
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return nil, errors.Wrap(err, "template sheet")
	}

	optional, err := headerStyle(f, headerFill)
	if err != nil {
		return nil, err
	}
	required, err := headerStyle(f, requiredFill)
	if err != nil {
		return nil, err
	}

	for i, c := range schema.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellStr(sheet, cell, c.Header); err != nil {
			return nil, err
		}
		style := optional
		if c.Required {
			style = required
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.ColumnNumberToName(len(schema.Columns))
	if err := f.SetColWidth(sheet, "A", last, colWidth); err != nil {
		return nil, err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	if opts.IncludeSamples {
		for r, sample := range schema.SampleRows {
			for i, c := range schema.Columns {
				v, ok := sample[c.Key]
				if !ok || v == "" {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
				if err := f.SetCellStr(sheet, cell, v); err != nil {
					return nil, err
				}
			}
		}
	}

	for i, c := range schema.Columns {
		values := core.EnumValues(c.Rules)
		if c.Type == core.TypeBool && len(values) == 0 {
			values = []string{"yes", "no"}
		}
		if len(values) == 0 {
			continue
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		dv := excelize.NewDataValidation(true)
		dv.Sqref = col + "2:" + col + strconv.Itoa(validationRows+1)
		if err := dv.SetDropList(values); err != nil {
			// Lists longer than Excel allows are documented on the
			// instructions sheet only.
			continue
		}
		dv.SetError(excelize.DataValidationErrorStyleWarning, c.Header, "Choose one of: "+strings.Join(values, ", "))
		if err := f.AddDataValidation(sheet, dv); err != nil {
			return nil, err
		}
	}

	if err := writeInstructions(f, schema); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "write template")
	}
	return buf.Bytes(), nil
}

func writeInstructions(f *excelize.File, schema *core.ColumnSchema) error {
	if _, err := f.NewSheet(instructionsName); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 13}})
	if err != nil {
		return err
	}
	hdr, err := headerStyle(f, headerFill)
	if err != nil {
		return err
	}

	intro := []string{
		"How to fill in the " + schema.DisplayName + " template",
		"Keep the header row unchanged. Red headers are required. One record per row; blank rows are ignored.",
	}
	if schema.Code != nil {
		intro = append(intro, "Codes are assigned automatically on import.")
	}
	if len(schema.UniqueFields) > 0 {
		intro = append(intro, "Rows are duplicates when they match an existing record on: "+headersFor(schema, schema.UniqueFields)+".")
	}
	row := 1
	for _, line := range intro {
		if err := f.SetCellStr(instructionsName, "A"+strconv.Itoa(row), line); err != nil {
			return err
		}
		row++
	}
	if err := f.SetCellStyle(instructionsName, "A1", "A1", bold); err != nil {
		return err
	}
	row++

	header := []interface{}{"Column", "Required", "Type", "Rules", "Default", "Notes"}
	if err := f.SetSheetRow(instructionsName, "A"+strconv.Itoa(row), &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(instructionsName, "A"+strconv.Itoa(row), "F"+strconv.Itoa(row), hdr); err != nil {
		return err
	}
	row++

	for _, c := range schema.Columns {
		req := "no"
		if c.Required {
			req = "yes"
		}
		rules := make([]string, 0, len(c.Rules))
		for _, r := range c.Rules {
			rules = append(rules, r.Describe())
		}
		def := ""
		if c.Default != nil {
			def = *c.Default
		}
		notes := c.Description
		if fk, ok := schema.ForeignKeyFor(c.Key); ok {
			notes = strings.TrimSpace(notes + " Must be the ID of an existing " + fk.Label + ".")
		}
		line := []interface{}{c.Header, req, typeLabel(c.Type), strings.Join(rules, "; "), def, notes}
		if err := f.SetSheetRow(instructionsName, "A"+strconv.Itoa(row), &line); err != nil {
			return err
		}
		row++
	}

	if err := f.SetColWidth(instructionsName, "A", "C", 18); err != nil {
		return err
	}
	return f.SetColWidth(instructionsName, "D", "F", 45)
}

func typeLabel(t core.ColumnType) string {
	switch t {
	case core.TypeNumber:
		return "number"
	case core.TypeDate:
		return "date (YYYY-MM-DD)"
	case core.TypeEmail:
		return "email address"
	case core.TypeBool:
		return "yes / no"
	}
	return "text"
}

func headersFor(schema *core.ColumnSchema, keys []string) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k
		if c, ok := schema.Column(k); ok {
			out[i] = c.Header
		}
	}
	return strings.Join(out, " + ")
}

// XLSX streams the selected records into a styled workbook and returns it
// with the export summary.
func (e *Exporter) XLSX(ctx context.Context, svc core.EntityService, req ExportRequest) ([]byte, Summary, error) {
	schema := svc.Schema()
	cols := svc.ExportColumns()
	if len(cols) == 0 {
		return nil, Summary{}, errors.Newf("entity %s has no export columns", schema.Entity)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(schema.DisplayName)
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return nil, Summary{}, err
	}
	hdr, err := headerStyle(f, headerFill)
	if err != nil {
		return nil, Summary{}, err
	}
	body, err := newBodyStyles(f)
	if err != nil {
		return nil, Summary{}, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, Summary{}, err
	}
	if err := sw.SetColWidth(1, len(cols), colWidth); err != nil {
		return nil, Summary{}, err
	}
	if err := sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, Summary{}, err
	}

	headerRow := make([]interface{}, len(cols))
	for i, c := range cols {
		headerRow[i] = excelize.Cell{StyleID: hdr, Value: c.Header}
	}
	if err := sw.SetRow("A1", headerRow, excelize.RowOpts{Height: 20}); err != nil {
		return nil, Summary{}, err
	}

	row := 1
	summary, err := e.each(ctx, svc, cols, req, func(rec store.Record, names core.RelationNames) error {
		row++
		cells := make([]interface{}, len(cols))
		for i, c := range cols {
			cells[i] = excelize.Cell{StyleID: body.pick(c, row), Value: cellValue(c, c.Value(rec, names))}
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		return sw.SetRow(cell, cells)
	})
	if err != nil {
		return nil, Summary{}, err
	}

	lastCol, _ := excelize.ColumnNumberToName(len(cols))
	if err := sw.AddTable(&excelize.Table{
		Range:     "A1:" + lastCol + strconv.Itoa(row),
		Name:      "export_" + schema.Entity,
		StyleName: "TableStyleLight1",
	}); err != nil {
		return nil, Summary{}, errors.Wrap(err, "export autofilter")
	}
	if err := sw.Flush(); err != nil {
		return nil, Summary{}, err
	}

	if req.IncludeSummary {
		if err := writeSummary(f, schema, req, summary, e.now()); err != nil {
			return nil, Summary{}, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, Summary{}, errors.Wrap(err, "write export")
	}
	e.logger.Debug("export rendered", "entity", schema.Entity, "rows", summary.Total, "format", "xlsx")
	return buf.Bytes(), summary, nil
}

func writeSummary(f *excelize.File, schema *core.ColumnSchema, req ExportRequest, s Summary, generated time.Time) error {
	if _, err := f.NewSheet(summaryName); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	hdr, err := headerStyle(f, headerFill)
	if err != nil {
		return err
	}

	row := 1
	put := func(label string, value interface{}) error {
		line := []interface{}{label, value}
		if err := f.SetSheetRow(summaryName, "A"+strconv.Itoa(row), &line); err != nil {
			return err
		}
		if err := f.SetCellStyle(summaryName, "A"+strconv.Itoa(row), "A"+strconv.Itoa(row), bold); err != nil {
			return err
		}
		row++
		return nil
	}

	for _, kv := range []struct {
		label string
		value interface{}
	}{
		{"Entity", schema.DisplayName},
		{"Generated", generated.UTC().Format(time.RFC3339)},
		{"Filters", req.Describe()},
		{"Total Records", s.Total},
		{"Matching Records", s.Matching},
		{"Active", s.Active},
		{"Inactive", s.Inactive},
	} {
		if err := put(kv.label, kv.value); err != nil {
			return err
		}
	}

	for _, b := range s.Breakdowns {
		row++
		header := []interface{}{b.Header, "Count"}
		if err := f.SetSheetRow(summaryName, "A"+strconv.Itoa(row), &header); err != nil {
			return err
		}
		if err := f.SetCellStyle(summaryName, "A"+strconv.Itoa(row), "B"+strconv.Itoa(row), hdr); err != nil {
			return err
		}
		row++
		for _, c := range b.Counts {
			line := []interface{}{c.Value, c.N}
			if err := f.SetSheetRow(summaryName, "A"+strconv.Itoa(row), &line); err != nil {
				return err
			}
			row++
		}
	}
	return f.SetColWidth(summaryName, "A", "B", 24)
}
