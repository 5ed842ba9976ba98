package metric

import (
	"fmt"
	"strings"

	"gokpi/domain/core"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// Category says what shape of value a metric produces
type Category string

const (
	CategoryNumeric   Category = "numeric"
	CategoryBreakdown Category = "breakdown"
)

// Definition is one named metric from a catalog. Definitions are immutable
// once a catalog is built.
type Definition struct {
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Placeholders []string `json:"placeholders,omitempty" yaml:"placeholders" validate:"dive,required"`
	Formula      string   `json:"formula" yaml:"formula" validate:"required"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies" validate:"dive,required"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Category     Category `json:"category,omitempty" yaml:"category" validate:"omitempty,oneof=numeric breakdown"`
}

// EffectiveCategory returns the declared category, numeric when unset
func (d Definition) EffectiveCategory() Category {
	if d.Category == "" {
		return CategoryNumeric
	}
	return d.Category
}

var validate = validator.New()

// Catalog is an ordered, name-indexed set of metric definitions. Declaration
// order drives every deterministic tie-break downstream.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog validates definitions and builds a catalog. Every structural
// problem is reported at once; any problem makes the whole catalog invalid.
func NewCatalog(defs []Definition) (*Catalog, error) {
	var result error
	c := &Catalog{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}

	for i, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		d.Formula = strings.TrimSpace(d.Formula)
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		if err := validate.Struct(d); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range verrs {
					result = multierror.Append(result, fmt.Errorf("metric %s: field %s failed %q", label, fe.Field(), fe.Tag()))
				}
			} else {
				result = multierror.Append(result, fmt.Errorf("metric %s: %w", label, err))
			}
			continue
		}
		if _, dup := c.index[d.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("metric %s: declared more than once", label))
			continue
		}

		c.index[d.Name] = len(c.defs)
		c.defs = append(c.defs, d)
	}

	if result != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCatalogInvalid, result)
	}
	return c, nil
}

// Merge overlays override on base. Override definitions win on name
// collision and keep the base position; new names are appended in override
// order.
func Merge(base, override *Catalog) *Catalog {
	if override == nil || override.Len() == 0 {
		return base
	}
	if base == nil {
		return override
	}

	merged := &Catalog{
		defs:  make([]Definition, 0, base.Len()+override.Len()),
		index: make(map[string]int, base.Len()+override.Len()),
	}
	for _, d := range base.defs {
		if o, ok := override.Get(d.Name); ok {
			d = o
		}
		merged.index[d.Name] = len(merged.defs)
		merged.defs = append(merged.defs, d)
	}
	for _, d := range override.defs {
		if _, seen := merged.index[d.Name]; seen {
			continue
		}
		merged.index[d.Name] = len(merged.defs)
		merged.defs = append(merged.defs, d)
	}
	return merged
}

// Len returns the number of definitions
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.defs)
}

// Definitions returns the definitions in declaration order
func (c *Catalog) Definitions() []Definition {
	return c.defs
}

// Get returns the definition with the given name
func (c *Catalog) Get(name string) (Definition, bool) {
	i, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Position returns the declaration index of name, or -1
func (c *Catalog) Position(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

// Names returns metric names in declaration order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.defs))
	for i, d := range c.defs {
		names[i] = d.Name
	}
	return names
}

// Placeholders returns every placeholder used across the catalog, in order of
// first appearance, without duplicates.
func (c *Catalog) Placeholders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range c.defs {
		for _, ph := range d.Placeholders {
			if seen[ph] {
				continue
			}
			seen[ph] = true
			out = append(out, ph)
		}
	}
	return out
}

// Select narrows the catalog to the named metrics plus everything they
// declare as dependencies, transitively. Declaration order is preserved.
func (c *Catalog) Select(names []string) (*Catalog, error) {
	return c.SelectWith(names, func(d Definition) []string { return d.Dependencies })
}

// SelectWith is Select with a caller-supplied dependency function, for
// callers that also follow references found inside formulas.
func (c *Catalog) SelectWith(names []string, depsOf func(Definition) []string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}

	keep := make(map[string]bool)
	queue := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := c.index[n]; !ok {
			return nil, fmt.Errorf("unknown metric %q", n)
		}
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if keep[n] {
			continue
		}
		keep[n] = true
		d, _ := c.Get(n)
		for _, dep := range depsOf(d) {
			if _, ok := c.index[dep]; ok && !keep[dep] {
				queue = append(queue, dep)
			}
		}
	}

	sub := &Catalog{index: make(map[string]int, len(keep))}
	for _, d := range c.defs {
		if keep[d.Name] {
			sub.index[d.Name] = len(sub.defs)
			sub.defs = append(sub.defs, d)
		}
	}
	return sub, nil
}

// Fingerprint hashes the catalog contents in declaration order
func (c *Catalog) Fingerprint() core.Hash {
	records := make([][]string, len(c.defs))
	for i, d := range c.defs {
		records[i] = []string{
			"name=" + d.Name,
			"formula=" + d.Formula,
			"placeholders=" + strings.Join(d.Placeholders, ","),
			"dependencies=" + strings.Join(d.Dependencies, ","),
			"category=" + string(d.EffectiveCategory()),
		}
	}
	return core.ComputeFingerprint(records)
}
