package core

// codegen.go derives short sequential business codes such as ZN001.
//
// The next code is computed from a snapshot of existing codes, so two
// concurrent imports can compute the same one. The store's unique index on
// (entity, code) is the real guard; the importer regenerates once when a
// create hits it.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// maxCodeAttempts is the initial attempt plus one retry.
const maxCodeAttempts = 2

// maxSequenceDigits excludes timestamp fallback codes from numbering.
const maxSequenceDigits = 9

// CodePrefix computes the prefix for row: the fixed prefix, or the first
// n letters of the source field upper-cased, padded with X.
func CodePrefix(spec CodeSpec, row TypedRow) string {
	if spec.Prefix != "" {
		return spec.Prefix
	}
	n := spec.PrefixLength
	if n <= 0 {
		n = DefaultCodePrefixLength
	}
	src, _ := row[spec.SourceField].Str()

	var b strings.Builder
	for _, r := range strings.ToUpper(src) {
		if b.Len() == n {
			break
		}
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	for b.Len() < n {
		b.WriteByte('X')
	}
	return b.String()
}

// NextCodeNumber returns one more than the largest numeric suffix among
// codes that are prefix followed only by digits.
func NextCodeNumber(prefix string, codes []string) int {
	highest := 0
	for _, c := range codes {
		suffix, ok := strings.CutPrefix(c, prefix)
		if !ok || suffix == "" || len(suffix) > maxSequenceDigits || !isDigits(suffix) {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}

// FormatCode zero-pads n to width after prefix. Numbers wider than width
// are written in full.
func FormatCode(prefix string, n, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// CodeGenerator allocates codes for one entity.
type CodeGenerator struct {
	entity string
	spec   CodeSpec
	now    func() time.Time
}

// NewCodeGenerator binds spec to entity.
func NewCodeGenerator(entity string, spec CodeSpec, now func() time.Time) *CodeGenerator {
	if spec.PrefixLength <= 0 {
		spec.PrefixLength = DefaultCodePrefixLength
	}
	if spec.Width <= 0 {
		spec.Width = DefaultCodeWidth
	}
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{entity: entity, spec: spec, now: now}
}

// Next computes the code for row. When existing codes cannot be read it
// falls back to the prefix plus timestamp digits, which skips the
// existence check; fallback reports that path.
func (g *CodeGenerator) Next(ctx context.Context, r store.Reader, row TypedRow) (code string, fallback bool) {
	prefix := CodePrefix(g.spec, row)
	codes, err := r.CodesWithPrefix(ctx, g.entity, prefix)
	if err != nil {
		return prefix + strconv.FormatInt(g.now().UnixMilli(), 10), true
	}
	return FormatCode(prefix, NextCodeNumber(prefix, codes), g.spec.Width), false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
