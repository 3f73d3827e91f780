package report

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-pdf/fpdf"

	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// Landscape A4 in millimetres.
const (
	pageMargin = 10.0
	pageWidth  = 297.0
	pageHeight = 210.0
	rowHeight  = 6.0
	fontSize   = 7.0
)

// pdfColumns is the export projection without the audit columns.
func pdfColumns(cols []core.ExportColumn) []core.ExportColumn {
	out := make([]core.ExportColumn, 0, len(cols))
	for _, c := range cols {
		switch c.Field {
		case store.FieldActive, store.FieldCreatedBy, store.FieldCreatedAt, store.FieldUpdatedBy, store.FieldUpdatedAt:
			continue
		}
		out = append(out, c)
	}
	return out
}

func pdfText(col core.ExportColumn, v any) string {
	switch x := cellValue(col, v).(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(core.DateLayout)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return store.FormatValue(x)
	}
}

// PDF renders the selected records as a landscape table with a title,
// the filter description and a summary block.
func (e *Exporter) PDF(ctx context.Context, svc core.EntityService, req ExportRequest) ([]byte, Summary, error) {
	schema := svc.Schema()
	cols := pdfColumns(svc.ExportColumns())
	if len(cols) == 0 {
		return nil, Summary{}, errors.Newf("entity %s has no export columns", schema.Entity)
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle(schema.DisplayName+" export", true)
	pdf.SetCreator("sheetport", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	colW := (pageWidth - 2*pageMargin) / float64(len(cols))
	fit := func(s string) string {
		s = tr(s)
		for len(s) > 0 && pdf.GetStringWidth(s) > colW-1.5 {
			s = s[:len(s)-1]
		}
		return s
	}

	header := func() {
		pdf.SetFont("Helvetica", "B", fontSize)
		pdf.SetFillColor(48, 84, 150)
		pdf.SetTextColor(255, 255, 255)
		for _, c := range cols {
			pdf.CellFormat(colW, rowHeight, fit(c.Header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", fontSize)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr(schema.DisplayName), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Generated "+e.now().UTC().Format(time.RFC3339)+"   Filters: "+req.Describe()), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	header()

	row := 0
	summary, err := e.each(ctx, svc, cols, req, func(rec store.Record, names core.RelationNames) error {
		if pdf.GetY()+rowHeight > pageHeight-pageMargin {
			pdf.AddPage()
			header()
		}
		if row%2 == 1 {
			pdf.SetFillColor(242, 242, 242)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		for _, c := range cols {
			align := "L"
			if c.Type == core.TypeNumber && c.Ref == nil {
				align = "R"
			}
			pdf.CellFormat(colW, rowHeight, fit(pdfText(c, c.Value(rec, names))), "1", 0, align, true, 0, "")
		}
		pdf.Ln(-1)
		row++
		return pdf.Error()
	})
	if err != nil {
		return nil, Summary{}, err
	}

	if req.IncludeSummary {
		writePDFSummary(pdf, tr, summary)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, Summary{}, errors.Wrap(err, "write pdf")
	}
	e.logger.Debug("export rendered", "entity", schema.Entity, "rows", summary.Total, "format", "pdf")
	return buf.Bytes(), summary, nil
}

func writePDFSummary(pdf *fpdf.Fpdf, tr func(string) string, s Summary) {
	lines := 4
	for _, b := range s.Breakdowns {
		lines += len(b.Counts) + 2
	}
	if pdf.GetY()+float64(lines)*5 > pageHeight-pageMargin {
		pdf.AddPage()
	} else {
		pdf.Ln(4)
	}
	pdf.SetAutoPageBreak(true, pageMargin)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	line := func(label string, n int) {
		pdf.CellFormat(50, 5, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 5, strconv.Itoa(n), "", 1, "R", false, 0, "")
	}
	line("Total Records", s.Total)
	line("Matching Records", s.Matching)
	line("Active", s.Active)
	line("Inactive", s.Inactive)

	for _, b := range s.Breakdowns {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(0, 5, tr("By "+b.Header), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, c := range b.Counts {
			line(c.Value, c.N)
		}
	}
}
