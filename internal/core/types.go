package core

import (
	"math"
	"strconv"
	"time"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// DateLayout is how date values are stored and exported.
const DateLayout = "2006-01-02"

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindDate
	KindBool
)

// Value is a typed cell: Null, String, Number, Date or Bool.
// The zero Value is Null.
type Value struct {
	kind ValueKind
	s    string
	n    float64
	t    time.Time
	b    bool
}

func NullValue() Value            { return Value{} }
func StringValue(s string) Value  { return Value{kind: KindString, s: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

// DateValue truncates t to its calendar day in UTC.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// Str returns the string variant.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the number variant.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Time returns the date variant.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindDate }

// Bool returns the bool variant.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Any returns the JSON-scalar form stored in store.Record.Fields.
// Dates become DateLayout strings.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindDate:
		return v.t.Format(DateLayout)
	case KindBool:
		return v.b
	}
	return nil
}

// Text renders the value the same way the store compares it.
func (v Value) Text() string {
	return store.FormatValue(v.Any())
}

func (v Value) String() string { return v.Text() }

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindDate:
		return v.t.Equal(o.t)
	case KindBool:
		return v.b == o.b
	}
	return true
}

// RawRow is one decoded data row. Values is keyed by column key and only
// holds non-blank cells; Line is the 1-based physical row in the sheet.
type RawRow struct {
	Line   int               `json:"line"`
	Values map[string]string `json:"values"`
}

// TypedRow is a row that passed the pipeline, keyed by column key.
type TypedRow map[string]Value

// Fields returns the non-null values in stored form.
func (r TypedRow) Fields() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if !v.IsNull() {
			out[k] = v.Any()
		}
	}
	return out
}

// OutcomeKind is the terminal state of one imported row.
type OutcomeKind string

const (
	OutcomeCreated  OutcomeKind = "created"
	OutcomeUpdated  OutcomeKind = "updated"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the result of exactly one input row.
type Outcome struct {
	Row    int           `json:"row"`
	Kind   OutcomeKind   `json:"kind"`
	Record *store.Record `json:"record,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Errors []RowError    `json:"errors,omitempty"`
}

// Succeeded reports whether the row was written.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated
}

// ImportResult aggregates every outcome of one import.
// SuccessCount + FailedCount == TotalRows.
type ImportResult struct {
	ImportID        string         `json:"importId"`
	Entity          string         `json:"entity"`
	FileName        string         `json:"fileName,omitempty"`
	TotalRows       int            `json:"totalRows"`
	SuccessCount    int            `json:"successCount"`
	FailedCount     int            `json:"failedCount"`
	Created         int            `json:"created"`
	Updated         int            `json:"updated"`
	Skipped         int            `json:"skipped"`
	Rejected        int            `json:"rejected"`
	Errors          []string       `json:"errors"`
	ImportedRecords []store.Record `json:"importedRecords"`
	DetailedErrors  []RowError     `json:"detailedErrors"`
	Outcomes        []Outcome      `json:"outcomes"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	StoppedEarly    bool           `json:"stoppedEarly,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	Duration        time.Duration  `json:"duration"`
}

func newImportResult(id, entity, fileName string, started time.Time) *ImportResult {
	return &ImportResult{
		ImportID:        id,
		Entity:          entity,
		FileName:        fileName,
		StartedAt:       started,
		Errors:          []string{},
		ImportedRecords: []store.Record{},
		DetailedErrors:  []RowError{},
		Outcomes:        []Outcome{},
	}
}

// add records one outcome and keeps the counters consistent.
func (r *ImportResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.TotalRows++
	switch o.Kind {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRejected:
		r.Rejected++
	}
	if o.Succeeded() {
		r.SuccessCount++
		if o.Record != nil {
			r.ImportedRecords = append(r.ImportedRecords, *o.Record)
		}
		return
	}
	r.FailedCount++
	if o.Kind == OutcomeSkipped {
		r.Errors = append(r.Errors, rowMessage(o.Row, "skipped: "+o.Reason))
		r.DetailedErrors = append(r.DetailedErrors, o.Errors...)
		return
	}
	for _, e := range o.Errors {
		r.Errors = append(r.Errors, rowMessage(e.Row, e.Message))
		r.DetailedErrors = append(r.DetailedErrors, e)
	}
}

func rowMessage(row int, msg string) string {
	return "Row " + strconv.Itoa(row) + ": " + msg
}

// Policy is how a duplicate row is resolved.
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicySkip   Policy = "skip"
	PolicyUpdate Policy = "update"
)

// ImportOptions are the caller's knobs for one import.
type ImportOptions struct {
	SkipDuplicates bool
	UpdateExisting bool
	BatchSize      int  // rows per chunk; 0 uses the importer default
	Strict         bool // stop after the first rejected row
	Progress       ProgressCallback
}

// Policy resolves the duplicate flags. UpdateExisting wins over SkipDuplicates.
func (o ImportOptions) Policy() Policy {
	switch {
	case o.UpdateExisting:
		return PolicyUpdate
	case o.SkipDuplicates:
		return PolicySkip
	}
	return PolicyReject
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseImporting ImportPhase = "importing"
	PhaseComplete  ImportPhase = "complete"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress is reported after each chunk.
type ImportProgress struct {
	ImportID   string      `json:"importId"`
	Entity     string      `json:"entity"`
	Phase      ImportPhase `json:"phase"`
	Processed  int         `json:"processed"`
	Created    int         `json:"created"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Rejected   int         `json:"rejected"`
	BytesRead  int64       `json:"bytesRead,omitempty"`
	BytesTotal int64       `json:"bytesTotal,omitempty"`
}

// Percent returns byte-based progress (0-100), or 0 when unknown.
func (p ImportProgress) Percent() int {
	if p.BytesTotal > 0 {
		return int((p.BytesRead * 100) / p.BytesTotal)
	}
	return 0
}

// ProgressCallback is called after each chunk and once at the end.
type ProgressCallback func(ImportProgress)
