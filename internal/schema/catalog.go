package schema

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/core"
)

//go:embed entities/*.yaml
var builtinFS embed.FS

// Builtin compiles the embedded entity catalog.
func Builtin(rules core.RuleSet) ([]*core.ColumnSchema, error) {
	sub, err := fs.Sub(builtinFS, "entities")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub, rules)
}

// LoadDir compiles every *.yaml file in dir.
func LoadDir(dir string, rules core.RuleSet) ([]*core.ColumnSchema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "entity dir")
	}
	if !info.IsDir() {
		return nil, errors.Newf("entity dir %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir), rules)
}

// LoadFS compiles every *.yaml and *.yml file at the root of fsys, in name order.
func LoadFS(fsys fs.FS, rules core.RuleSet) ([]*core.ColumnSchema, error) {
	var names []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		names = append(names, m...)
	}
	sort.Strings(names)

	schemas := make([]*core.ColumnSchema, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		decl, err := Parse(data)
		if err != nil {
			return nil, errors.Wrap(err, path.Base(name))
		}
		s, err := decl.Compile(rules)
		if err != nil {
			return nil, errors.Wrap(err, path.Base(name))
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// NewRegistry builds a registry from the built-in catalog plus any
// entities declared in extraDir. Redeclaring a built-in entity is an error.
func NewRegistry(extraDir string, opts ...core.ServiceOption) (*core.Registry, error) {
	rules := core.DefaultRuleSet()

	schemas, err := Builtin(rules)
	if err != nil {
		return nil, err
	}
	if extraDir != "" {
		extra, err := LoadDir(extraDir, rules)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, extra...)
	}

	services := make([]core.EntityService, len(schemas))
	for i, s := range schemas {
		services[i] = core.NewSchemaService(s, opts...)
	}
	return core.NewRegistry(services...)
}
