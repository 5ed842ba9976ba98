// Package catalog loads metric catalogs from YAML. Three layouts are
// accepted: a list of definitions, a mapping whose values are lists of
// definitions (kpis: [...] or grouped by business area), and a mapping keyed
// by metric name.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/internal/errors"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// rawDefinition is the YAML shape of one metric. Columns is the legacy name
// of Placeholders; Type is an alias of Category.
type rawDefinition struct {
	Name         string   `yaml:"name"`
	Placeholders []string `yaml:"placeholders"`
	Columns      []string `yaml:"columns"`
	Formula      string   `yaml:"formula"`
	Dependencies []string `yaml:"dependencies"`
	Description  string   `yaml:"description"`
	Category     string   `yaml:"category"`
	Type         string   `yaml:"type"`
}

func (r rawDefinition) definition() metric.Definition {
	placeholders := r.Placeholders
	if len(placeholders) == 0 {
		placeholders = r.Columns
	}
	category := r.Type
	if category == "" {
		category = r.Category
	}
	return metric.Definition{
		Name:         r.Name,
		Placeholders: placeholders,
		Formula:      r.Formula,
		Dependencies: r.Dependencies,
		Description:  r.Description,
		Category:     metric.Category(strings.ToLower(category)),
	}
}

// Parse decodes catalog YAML into definitions in document order. It checks
// layout only; Definition validation happens in metric.NewCatalog.
func Parse(data []byte) ([]metric.Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCatalogInvalid, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		return decodeList(root)
	case yaml.MappingNode:
		var defs []metric.Definition
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i], root.Content[i+1]
			switch value.Kind {
			case yaml.SequenceNode:
				group, err := decodeList(value)
				if err != nil {
					return nil, err
				}
				defs = append(defs, group...)
			case yaml.MappingNode:
				var raw rawDefinition
				if err := value.Decode(&raw); err != nil {
					return nil, fmt.Errorf("%w: metric %s: %v", core.ErrCatalogInvalid, key.Value, err)
				}
				if raw.Name == "" {
					raw.Name = key.Value
				}
				defs = append(defs, raw.definition())
			default:
				return nil, core.NewCatalogError(fmt.Sprintf("line %d: %q is neither a metric nor a list of metrics", key.Line, key.Value))
			}
		}
		return defs, nil
	}
	return nil, core.NewCatalogError(fmt.Sprintf("line %d: catalog must be a list or a mapping", root.Line))
}

func decodeList(node *yaml.Node) ([]metric.Definition, error) {
	var raws []rawDefinition
	if err := node.Decode(&raws); err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", core.ErrCatalogInvalid, node.Line, err)
	}
	defs := make([]metric.Definition, len(raws))
	for i, r := range raws {
		defs[i] = r.definition()
	}
	return defs, nil
}

// Default returns the embedded stock catalog
func Default() (*metric.Catalog, error) {
	defs, err := Parse(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return metric.NewCatalog(defs)
}

// FileSource reads a catalog from a YAML file, or from every .yaml/.yml file
// of a directory in name order.
type FileSource struct {
	Path string
}

// LoadCatalog implements ports.CatalogSource
func (s FileSource) LoadCatalog(ctx context.Context) (*metric.Catalog, error) {
	files, err := catalogFiles(s.Path)
	if err != nil {
		return nil, err
	}
	var defs []metric.Definition
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", f, err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		defs = append(defs, parsed...)
	}
	return metric.NewCatalog(defs)
}

func catalogFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Source is the stock catalog with an optional user override layered on top.
// Override definitions win on name collision.
type Source struct {
	OverridePath string
	logger       *internal.Logger
}

// NewSource creates a source; overridePath may be empty
func NewSource(overridePath string) *Source {
	return &Source{OverridePath: overridePath, logger: internal.DefaultLogger.With("CatalogSource")}
}

// LoadCatalog implements ports.CatalogSource. Any structural problem in
// either layer is reported as CATALOG_INVALID.
func (s *Source) LoadCatalog(ctx context.Context) (*metric.Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, errors.CatalogInvalid(err)
	}
	if s.OverridePath == "" {
		return base, nil
	}
	if _, err := os.Stat(s.OverridePath); os.IsNotExist(err) {
		s.logger.Warn("override catalog %s not found, using stock catalog", s.OverridePath)
		return base, nil
	}

	override, err := FileSource{Path: s.OverridePath}.LoadCatalog(ctx)
	if err != nil {
		if core.IsCatalogError(err) {
			return nil, errors.CatalogInvalid(err)
		}
		return nil, err
	}
	merged := metric.Merge(base, override)
	s.logger.Info("catalog: %d stock + %d override definitions, %d effective", base.Len(), override.Len(), merged.Len())
	return merged, nil
}
