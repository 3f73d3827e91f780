// Package schema declares the importable entities. Each entity is a YAML
// document compiled into a core.ColumnSchema; the built-in catalog is
// embedded and deployments may add their own from a directory.
package schema

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/sheetport/internal/core"
)

// EntityDecl is the YAML form of one entity.
type EntityDecl struct {
	Entity      string              `yaml:"entity"`
	DisplayName string              `yaml:"display_name"`
	NameField   string              `yaml:"name_field"`
	Unique      []string            `yaml:"unique"`
	Code        *CodeDecl           `yaml:"code"`
	Search      []string            `yaml:"search"`
	Summary     []string            `yaml:"summary"`
	ForeignKeys []ForeignKeyDecl    `yaml:"foreign_keys"`
	Columns     []ColumnDecl        `yaml:"columns"`
	Samples     []map[string]string `yaml:"samples"`
}

// CodeDecl configures code generation. A fixed prefix wins over a source field.
type CodeDecl struct {
	Source       string `yaml:"source"`
	Prefix       string `yaml:"prefix"`
	PrefixLength int    `yaml:"prefix_length"`
	Width        int    `yaml:"width"`
}

type ForeignKeyDecl struct {
	Field  string `yaml:"field"`
	Entity string `yaml:"entity"`
	Label  string `yaml:"label"`
}

type ColumnDecl struct {
	Key         string          `yaml:"key"`
	Header      string          `yaml:"header"`
	Type        string          `yaml:"type"`
	Required    bool            `yaml:"required"`
	Default     *string         `yaml:"default"`
	Transform   []string        `yaml:"transform"`
	Rules       []core.RuleSpec `yaml:"rules"`
	Description string          `yaml:"description"`
}

// Parse decodes a single entity document. Unknown keys are rejected so a
// typo in a rule or column surfaces at startup.
func Parse(data []byte) (EntityDecl, error) {
	var decl EntityDecl
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return EntityDecl{}, errors.Wrap(err, "decode entity")
	}
	return decl, nil
}

// Compile builds the ColumnSchema, resolving custom rules against rules.
// The result is validated before it is returned.
func (d EntityDecl) Compile(rules core.RuleSet) (*core.ColumnSchema, error) {
	s := &core.ColumnSchema{
		Entity:        strings.TrimSpace(d.Entity),
		DisplayName:   d.DisplayName,
		UniqueFields:  d.Unique,
		NameField:     d.NameField,
		SummaryFields: d.Summary,
		SearchFields:  d.Search,
		SampleRows:    d.Samples,
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Entity
	}

	for _, c := range d.Columns {
		col, err := c.compile(rules)
		if err != nil {
			return nil, errors.Wrapf(err, "entity %s column %s", s.Entity, c.Key)
		}
		s.Columns = append(s.Columns, col)
	}

	for _, fk := range d.ForeignKeys {
		label := fk.Label
		if label == "" {
			label = fk.Entity
		}
		s.ForeignKeys = append(s.ForeignKeys, core.ForeignKey{Field: fk.Field, Entity: fk.Entity, Label: label})
	}

	if d.Code != nil {
		s.Code = &core.CodeSpec{
			SourceField:  d.Code.Source,
			Prefix:       strings.ToUpper(d.Code.Prefix),
			PrefixLength: d.Code.PrefixLength,
			Width:        d.Code.Width,
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (c ColumnDecl) compile(rules core.RuleSet) (core.ColumnDefinition, error) {
	typ := core.ColumnType(strings.ToLower(c.Type))
	if c.Type == "" {
		typ = core.TypeString
	}

	col := core.ColumnDefinition{
		Key:         c.Key,
		Header:      c.Header,
		Required:    c.Required,
		Type:        typ,
		Default:     c.Default,
		Description: strings.TrimSpace(c.Description),
	}

	for i, spec := range c.Rules {
		r, err := spec.Compile(rules)
		if err != nil {
			return core.ColumnDefinition{}, errors.Wrapf(err, "rule %d", i+1)
		}
		col.Rules = append(col.Rules, r)
	}

	t, err := core.TransformNamed(c.Transform...)
	if err != nil {
		return core.ColumnDefinition{}, err
	}
	col.Transform = t
	return col, nil
}
