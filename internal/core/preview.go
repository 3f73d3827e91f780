package core

// preview.go runs the import pipeline read-only: every row is validated and
// checked against the store for duplicates and missing references, but
// nothing is written.

import (
	"context"
	"strings"
	"time"
)

// maxPreviewRows caps how many row previews are returned; counts always
// cover the whole file.
const maxPreviewRows = 1000

// PreviewStatus classifies one previewed row.
type PreviewStatus string

const (
	PreviewValid           PreviewStatus = "valid"
	PreviewInvalid         PreviewStatus = "invalid"
	PreviewDuplicate       PreviewStatus = "duplicate"
	PreviewDuplicateInFile PreviewStatus = "duplicate_in_file"
)

// PreviewRow is one parsed row with its problems.
type PreviewRow struct {
	Line        int               `json:"line"`
	Status      PreviewStatus     `json:"status"`
	Values      map[string]string `json:"values"`
	Errors      []RowError        `json:"errors,omitempty"`
	ExistingID  string            `json:"existingId,omitempty"`
	FirstLineOf int               `json:"firstLineOf,omitempty"` // set for in-file duplicates
}

// DuplicatePreview lists lines sharing a unique key within the file.
type DuplicatePreview struct {
	RowKey      string `json:"rowKey"`
	LineNumbers []int  `json:"lineNumbers"`
}

// PreviewResult is the read-only analysis of an upload.
type PreviewResult struct {
	Entity           string             `json:"entity"`
	Headers          []string           `json:"headers"`
	TotalRows        int                `json:"totalRows"`
	ValidRows        int                `json:"validRows"`
	InvalidRows      int                `json:"invalidRows"`
	DuplicateRows    int                `json:"duplicateRows"`
	DuplicateInFile  int                `json:"duplicateInFile"`
	Rows             []PreviewRow       `json:"rows"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples,omitempty"`
	Truncated        bool               `json:"truncated,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// Preview analyses the upload without persisting anything.
//
// ValidRows counts rows that would pass validation and reference checks.
// DuplicateRows are valid rows that match a stored record; DuplicateInFile
// counts extra occurrences of a key already seen earlier in the file.
func (im *Importer) Preview(ctx context.Context, svc EntityService, fileName string, data []byte) (*PreviewResult, error) {
	startTime := time.Now()
	schema := svc.Schema()

	rows, err := Decode(fileName, data, schema, im.decodeOptions())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PreviewResult{
		Entity:  schema.Entity,
		Headers: schema.Headers(),
		Rows:    []PreviewRow{},
	}
	validator := NewRowValidator(schema)
	seenKeys := make(map[string][]int)
	var keyOrder []string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, ok := rows.Next()
		if !ok {
			break
		}
		resp.TotalRows++

		pr := PreviewRow{Line: raw.Line, Status: PreviewValid, Values: raw.Values}
		vr := validator.ValidateRow(raw)
		if !vr.Valid() {
			pr.Status = PreviewInvalid
			pr.Errors = vr.RowErrors(raw.Line)
		} else {
			im.previewChecks(ctx, svc, vr.Row, &pr)
			if key, ok := UniqueKey(schema, vr.Row); ok {
				if _, seen := seenKeys[key]; !seen {
					keyOrder = append(keyOrder, key)
				} else if pr.Status == PreviewValid || pr.Status == PreviewDuplicate {
					pr.Status = PreviewDuplicateInFile
					pr.FirstLineOf = seenKeys[key][0]
				}
				seenKeys[key] = append(seenKeys[key], raw.Line)
			}
		}

		switch pr.Status {
		case PreviewInvalid:
			resp.InvalidRows++
		case PreviewDuplicate:
			resp.ValidRows++
			resp.DuplicateRows++
		case PreviewDuplicateInFile:
			resp.ValidRows++
			resp.DuplicateInFile++
		default:
			resp.ValidRows++
		}

		if len(resp.Rows) < maxPreviewRows {
			resp.Rows = append(resp.Rows, pr)
		} else {
			resp.Truncated = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, key := range keyOrder {
		if lines := seenKeys[key]; len(lines) > 1 {
			resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{RowKey: displayKey(key), LineNumbers: lines})
		}
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return resp, nil
}

// previewChecks runs the store lookups of a valid row.
func (im *Importer) previewChecks(ctx context.Context, svc EntityService, row TypedRow, pr *PreviewRow) {
	rowCtx, cancel := context.WithTimeout(ctx, im.cfg.RowTimeout)
	defer cancel()

	missing, err := svc.ValidateForeignKeys(rowCtx, im.store, row)
	if err != nil {
		pr.Status = PreviewInvalid
		pr.Errors = append(pr.Errors, newRowError(pr.Line, err))
		return
	}
	if len(missing) > 0 {
		pr.Status = PreviewInvalid
		pr.Errors = append(pr.Errors, missing.RowErrors(pr.Line, svc.Schema())...)
		return
	}

	existing, err := svc.CheckDuplicate(rowCtx, im.store, row)
	if err != nil {
		pr.Status = PreviewInvalid
		pr.Errors = append(pr.Errors, newRowError(pr.Line, err))
		return
	}
	if existing != nil {
		pr.Status = PreviewDuplicate
		pr.ExistingID = existing.ID
	}
}

// displayKey renders a composite key for people.
func displayKey(key string) string {
	return strings.ReplaceAll(key, "\x1f", " | ")
}
