package core

// decode.go turns an uploaded workbook or CSV into RawRows.
//
// Whole-file problems (empty payload, unsupported extension, oversize file,
// unreadable workbook, missing header) are reported before any row is
// yielded, as a single structural error. Rows are pulled lazily: CSV goes
// through the streaming BOM/UTF-8 readers, xlsx through excelize's row
// iterator, legacy xls through extrame/xls.

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxHeaderSearchRows bounds how far down the header row may be.
const DefaultMaxHeaderSearchRows = 20

// SupportedExtensions lists the upload formats.
var SupportedExtensions = []string{".csv", ".xlsx", ".xls"}

// DecodeOptions bounds the decoder.
type DecodeOptions struct {
	MaxFileSize         int64 // 0 means unlimited
	MaxHeaderSearchRows int
}

// cellSource yields physical rows; io.EOF ends the sheet.
type cellSource interface {
	next() ([]string, error)
	close() error
}

// Rows is a lazy RawRow iterator over one decoded file.
type Rows struct {
	src      cellSource
	counter  *StreamingCountingReader
	headers  []string       // header cells as found in the file
	columns  map[int]string // file column index -> column key
	line     int            // physical line of the last row read
	peeked   *RawRow
	err      error
	finished bool
}

// Decode validates the upload and positions the iterator after the header.
func Decode(fileName string, data []byte, schema *ColumnSchema, opts DecodeOptions) (rows *Rows, err error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !isSupportedExtension(ext) {
		return nil, structuralError(
			"Upload a .xlsx, .xls or .csv file",
			"unsupported file type %q", ext)
	}
	if len(data) == 0 {
		return nil, structuralError("Please upload a file with a header row and data rows", "empty file")
	}
	if opts.MaxFileSize > 0 && int64(len(data)) > opts.MaxFileSize {
		return nil, structuralError(
			"Split the file into smaller chunks",
			"file too large: %d bytes exceeds limit of %d bytes", len(data), opts.MaxFileSize)
	}
	if opts.MaxHeaderSearchRows <= 0 {
		opts.MaxHeaderSearchRows = DefaultMaxHeaderSearchRows
	}

	// Parsers for binary formats can panic on corrupt input.
	defer func() {
		if p := recover(); p != nil {
			rows, err = nil, unreadable(rows, p)
		}
	}()

	rows = &Rows{}
	switch sniffFormat(data, ext) {
	case ".xlsx":
		rows.src, err = newXLSXSource(data)
	case ".xls":
		rows.src, err = newXLSSource(data)
	default:
		var text io.Reader
		text, rows.counter = WrapForStreaming(bytes.NewReader(data), int64(len(data)))
		rows.src = newCSVSource(text)
	}
	if err != nil {
		return nil, structuralError("Re-save the file from your spreadsheet application and try again",
			"unreadable workbook: %v", err)
	}
	return rows.start(schema, opts.MaxHeaderSearchRows)
}

// start positions r after the header and peeks the first data row.
// The source is closed on every failure, including a parser panic.
func (r *Rows) start(schema *ColumnSchema, maxRows int) (rows *Rows, err error) {
	defer func() {
		if p := recover(); p != nil {
			rows, err = nil, unreadable(r, p)
		}
	}()

	if err := r.findHeader(schema, maxRows); err != nil {
		_ = r.Close()
		return nil, err
	}

	first, ok := r.Next()
	if !ok {
		_ = r.Close()
		if r.err != nil {
			return nil, r.err
		}
		return nil, structuralError("Add at least one data row below the header", "no data rows after header")
	}
	r.peeked = &first
	return r, nil
}

func unreadable(r *Rows, p any) error {
	if r != nil {
		_ = r.Close()
	}
	return structuralError("Re-save the file from your spreadsheet application and try again",
		"unreadable workbook: %v", p)
}

func isSupportedExtension(ext string) bool {
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// sniffFormat prefers the file's magic bytes over its extension, so an
// xlsx saved as .xls (or the reverse) still opens.
func sniffFormat(data []byte, ext string) string {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return ".xlsx"
	case bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0}):
		return ".xls"
	case ext == ".csv":
		return ".csv"
	}
	// Some systems export CSV/TSV text with a spreadsheet extension.
	return ".csv"
}

// Headers returns the header row as found in the file.
func (r *Rows) Headers() []string { return r.headers }

// Err returns the first read error encountered by Next.
func (r *Rows) Err() error { return r.err }

// BytesRead reports CSV progress; workbooks are parsed up front and report 0.
func (r *Rows) BytesRead() (read, total int64) {
	if r.counter == nil {
		return 0, 0
	}
	return r.counter.BytesRead, r.counter.Total
}

// Next returns the next non-blank row.
func (r *Rows) Next() (RawRow, bool) {
	if r.peeked != nil {
		row := *r.peeked
		r.peeked = nil
		return row, true
	}
	for !r.finished {
		cells, err := r.src.next()
		if err == io.EOF {
			r.finished = true
			break
		}
		r.line++
		if err != nil {
			r.err = structuralError("Check the file near this line for stray quotes",
				"parse error on line %d: %v", r.line, err)
			r.finished = true
			break
		}
		if isBlankRow(cells) {
			continue
		}
		row := RawRow{Line: r.line, Values: make(map[string]string, len(r.columns))}
		for idx, key := range r.columns {
			if idx < len(cells) {
				if v := CleanCell(cells[idx]); v != "" {
					row.Values[key] = v
				}
			}
		}
		return row, true
	}
	return RawRow{}, false
}

// Close releases the underlying workbook.
func (r *Rows) Close() error {
	r.finished = true
	if r.src == nil {
		return nil
	}
	return r.src.close()
}

// findHeader scans the first maxRows rows for one that names every
// required column. The best partial match is used to explain a failure.
func (r *Rows) findHeader(schema *ColumnSchema, maxRows int) error {
	lookup := headerLookup(schema)
	var bestMissing []string
	bestMatched := -1

	for i := 0; i < maxRows; i++ {
		cells, err := r.src.next()
		if err == io.EOF {
			break
		}
		r.line++
		if err != nil {
			return structuralError("Ensure the file is comma-separated with consistent quoting",
				"invalid csv: line %d: %v", r.line, err)
		}
		if isBlankRow(cells) {
			continue
		}

		columns := make(map[int]string)
		found := make(map[string]bool)
		for idx, cell := range cells {
			key, ok := lookup[normalizeHeader(cell)]
			if !ok || found[key] {
				continue
			}
			columns[idx] = key
			found[key] = true
		}

		var missing []string
		for _, c := range schema.Columns {
			if c.Required && !found[c.Key] {
				missing = append(missing, c.Header)
			}
		}
		if len(missing) == 0 && len(columns) > 0 {
			r.headers = cells
			r.columns = columns
			return nil
		}
		if len(columns) > bestMatched {
			bestMatched = len(columns)
			bestMissing = missing
		}
	}

	if bestMatched > 0 {
		return structuralError("Use the template's header row; headers are matched ignoring case and spacing",
			"missing required column(s): %s", strings.Join(bestMissing, ", "))
	}
	return structuralError("Use the template's header row; headers are matched ignoring case and spacing",
		"header row not found (expected: %s)", strings.Join(schema.Headers(), ", "))
}

// headerLookup maps normalized header and key spellings to column keys.
func headerLookup(schema *ColumnSchema) map[string]string {
	m := make(map[string]string, len(schema.Columns)*2)
	for _, c := range schema.Columns {
		m[normalizeHeader(c.Key)] = c.Key
	}
	// Headers win over keys when they collide.
	for _, c := range schema.Columns {
		m[normalizeHeader(c.Header)] = c.Key
	}
	return m
}

var headerFolder = cases.Fold()

// normalizeHeader makes header matching tolerant of case, full-width forms,
// underscores and runs of whitespace.
func normalizeHeader(s string) string {
	s = norm.NFKC.String(CleanCell(s))
	s = headerFolder.String(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	r *csv.Reader
}

func newCSVSource(r io.Reader) *csvSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return &csvSource{r: cr}
}

func (s *csvSource) next() ([]string, error) { return s.r.Read() }
func (s *csvSource) close() error           { return nil }

type xlsxSource struct {
	f    *excelize.File
	rows *excelize.Rows
}

func newXLSXSource(data []byte) (*xlsxSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &xlsxSource{f: f, rows: rows}, nil
}

func (s *xlsxSource) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *xlsxSource) close() error {
	err := s.rows.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type xlsSource struct {
	sheet *xls.WorkSheet
	pos   int
}

func newXLSSource(data []byte) (*xlsSource, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("first sheet is unreadable")
	}
	return &xlsSource{sheet: sheet}, nil
}

func (s *xlsSource) next() ([]string, error) {
	if s.pos > int(s.sheet.MaxRow) {
		return nil, io.EOF
	}
	i := s.pos
	s.pos++

	row := s.sheet.Row(i)
	if row == nil {
		return nil, nil
	}
	cells := make([]string, row.LastCol())
	for j := row.FirstCol(); j < row.LastCol(); j++ {
		cells[j] = row.Col(j)
	}
	return cells, nil
}

func (s *xlsSource) close() error { return nil }
