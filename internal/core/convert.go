package core

// convert.go converts raw spreadsheet text into typed Values.
//
// These functions handle the messy reality of user-provided spreadsheet data:
//   - Multiple date formats (US, EU, ISO, Excel serial numbers)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// Parse errors are phrased so the pipeline can prefix them with a header,
// e.g. "Capacity must be a number".

import (
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Excel serial day bounds accepted as dates (1900-01-01 .. 9999-12-31).
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2-Jan-2006",
		time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
		"20060102",
	}
)

// Conversion failures, phrased as predicates.
var (
	errNotNumber = errors.New("must be a number")
	errNotFinite = errors.New("must be a finite number")
	errNotDate   = errors.New("must be a date (YYYY-MM-DD, MM/DD/YYYY or Jan 2, 2006)")
	errNotBool   = errors.New("must be yes/no, true/false, or 1/0")
	errNotEmail  = errors.New("must be a valid email address")
)

// Convert parses raw text as t. Blank input yields Null.
func Convert(t ColumnType, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NullValue(), nil
	}
	switch t {
	case TypeNumber:
		n, err := ParseNumber(raw)
		if err != nil {
			return NullValue(), err
		}
		return NumberValue(n), nil
	case TypeDate:
		d, err := ParseDate(raw)
		if err != nil {
			return NullValue(), err
		}
		return DateValue(d), nil
	case TypeBool:
		b, ok := ParseBool(raw)
		if !ok {
			return NullValue(), errNotBool
		}
		return BoolValue(b), nil
	case TypeEmail:
		addr, err := ParseEmail(raw)
		if err != nil {
			return NullValue(), err
		}
		return StringValue(addr), nil
	}
	return StringValue(raw), nil
}

// ParseNumber parses a finite number.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols and thousands separators
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, errNotNumber
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, errNotFinite
	}
	return n, nil
}

// ParseDate parses a calendar date.
// Supports multiple date formats, Excel serial days, and 2-digit years with pivot.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}

	// Spreadsheets that lost their cell format hand us the serial day.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, errNotDate
}

// ParseBool accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// ParseEmail accepts exactly one bare RFC 5322 address and returns it.
// Display names ("Ann <ann@x.io>") are rejected.
func ParseEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return "", errNotEmail
	}
	return addr.Address, nil
}

// CleanCell trims whitespace and unwraps the ="..." form Excel uses to keep
// numbers as text. Quote characters are data once the CSV or workbook
// reader has run, so they are left alone.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if len(s) >= 3 && strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.TrimSpace(s)
}
