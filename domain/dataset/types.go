package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnKind is the semantic kind of a column, fixed at ingestion time.
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
	KindIdentifier  ColumnKind = "identifier"
	KindDatetime    ColumnKind = "datetime"
)

// Column is one named, typed column of a dataset
type Column struct {
	Name  string     `json:"name"`
	Kind  ColumnKind `json:"kind"`
	Cells []string   `json:"-"`

	numbers []float64
}

// IsNumeric reports whether numeric aggregations are allowed on the column.
func (c *Column) IsNumeric() bool {
	return c.Kind == KindNumeric
}

// Numbers returns the parsed numeric cells; blank or unparseable cells are NaN.
func (c *Column) Numbers() []float64 {
	return c.numbers
}

// Dataset is an immutable in-memory table. It is safe to share between
// goroutines once built.
type Dataset struct {
	Name string

	columns      []*Column
	byName       map[string]int
	byNormalized map[string][]int
	rowCount     int
}

// New builds a dataset from a header row and data rows. Ragged rows are padded
// with blanks and extra cells dropped. Columns missing from kinds are inferred.
func New(name string, headers []string, rows [][]string, kinds map[string]ColumnKind) (*Dataset, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("dataset %q has no columns", name)
	}

	ds := &Dataset{
		Name:         name,
		columns:      make([]*Column, len(headers)),
		byName:       make(map[string]int, len(headers)),
		byNormalized: make(map[string][]int, len(headers)),
		rowCount:     len(rows),
	}

	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("column_%d", i+1)
		}
		if _, dup := ds.byName[header]; dup {
			return nil, fmt.Errorf("dataset %q has duplicate column %q", name, header)
		}

		cells := make([]string, len(rows))
		for r, row := range rows {
			if i < len(row) {
				cells[r] = strings.TrimSpace(row[i])
			}
		}

		kind, ok := kinds[header]
		if !ok {
			kind = InferKind(header, cells)
		}

		col := &Column{Name: header, Kind: kind, Cells: cells}
		if kind == KindNumeric {
			col.numbers = make([]float64, len(cells))
			for r, cell := range cells {
				col.numbers[r] = ParseNumber(cell)
			}
		}

		ds.columns[i] = col
		ds.byName[header] = i
		norm := NormalizeName(header)
		ds.byNormalized[norm] = append(ds.byNormalized[norm], i)
	}

	return ds, nil
}

// RowCount returns the number of data rows
func (d *Dataset) RowCount() int {
	return d.rowCount
}

// Columns returns the columns in header order
func (d *Dataset) Columns() []*Column {
	return d.columns
}

// ColumnNames returns the column names in header order
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with exactly this name
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// Lookup resolves a column by exact name, then by normalized name. When
// several columns normalize identically the first in header order wins.
func (d *Dataset) Lookup(name string) (*Column, bool) {
	if c, ok := d.Column(name); ok {
		return c, true
	}
	idx := d.byNormalized[NormalizeName(name)]
	if len(idx) == 0 {
		return nil, false
	}
	return d.columns[idx[0]], true
}

// All returns a view over every row
func (d *Dataset) All() View {
	return View{ds: d}
}

// Subset returns a view over the given row indices
func (d *Dataset) Subset(rows []int) View {
	if rows == nil {
		rows = []int{}
	}
	return View{ds: d, rows: rows}
}

// View is a row subset of a dataset. A nil row list means every row.
type View struct {
	ds   *Dataset
	rows []int
}

// Dataset returns the backing dataset
func (v View) Dataset() *Dataset {
	return v.ds
}

// Len returns the number of rows visible through the view
func (v View) Len() int {
	if v.rows == nil {
		return v.ds.rowCount
	}
	return len(v.rows)
}

// Rows returns the visible row indices
func (v View) Rows() []int {
	if v.rows != nil {
		return v.rows
	}
	all := make([]int, v.ds.rowCount)
	for i := range all {
		all[i] = i
	}
	return all
}

// Numbers returns the numeric cells of col for the visible rows
func (v View) Numbers(col *Column) []float64 {
	src := col.numbers
	if src == nil {
		src = make([]float64, len(col.Cells))
		for i, cell := range col.Cells {
			src[i] = ParseNumber(cell)
		}
	}
	if v.rows == nil {
		out := make([]float64, len(src))
		copy(out, src)
		return out
	}
	out := make([]float64, len(v.rows))
	for i, r := range v.rows {
		out[i] = src[r]
	}
	return out
}

// Cells returns the raw cells of col for the visible rows
func (v View) Cells(col *Column) []string {
	if v.rows == nil {
		out := make([]string, len(col.Cells))
		copy(out, col.Cells)
		return out
	}
	out := make([]string, len(v.rows))
	for i, r := range v.rows {
		out[i] = col.Cells[r]
	}
	return out
}

// ParseNumber parses a numeric cell, tolerating thousands separators, a
// leading currency symbol and a trailing percent sign. Blank or unparseable
// cells yield NaN.
func ParseNumber(cell string) float64 {
	s := strings.TrimSpace(cell)
	if s == "" {
		return math.NaN()
	}
	s = strings.TrimLeft(s, "$€£¥")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
