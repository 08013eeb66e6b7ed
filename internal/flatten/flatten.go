// Package flatten turns validated records into spreadsheet rows: one row per element
// of a designated group, with the document label and top-level scalars repeated.
package flatten

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// LabelColumn is the first column of every row.
const LabelColumn = "File Name"

var ErrFlatteningLimitation = errors.New("flattening limitation")

// LimitationError is returned for schemas whose shape cannot be flattened into rows.
type LimitationError struct {
	Field  string
	Reason string
}

func (e *LimitationError) Error() string {
	if e.Field == "" {
		return "flatten: " + e.Reason
	}
	return fmt.Sprintf("flatten: %s: %s", e.Field, e.Reason)
}

func (e *LimitationError) Unwrap() error { return ErrFlatteningLimitation }

// Options controls row generation.
type Options struct {
	// RowsField names the top-level group that produces rows. When empty the schema
	// must contain exactly one top-level group.
	RowsField string
}

// Cell is a single column value: the label, a string or a float64.
type Cell struct {
	Column string
	Value  any
}

// Row is an ordered list of cells.
type Row []Cell

// Get returns the value of a column.
func (r Row) Get(column string) (any, bool) {
	for _, c := range r {
		if c.Column == column {
			return c.Value, true
		}
	}
	return nil, false
}

// Values returns the cell values in column order.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.Value
	}
	return out
}

// Table is a header plus rows whose cells follow the header order.
type Table struct {
	Columns []string
	Rows    []Row
}

type layout struct {
	scalars  []schema.Field
	group    schema.Field
	children []string
	columns  []string
}

func resolve(fields []schema.Field, opts Options) (*layout, error) {
	group, err := rowsGroup(fields, opts.RowsField)
	if err != nil {
		return nil, err
	}
	for _, c := range group.Children {
		if c.IsGroup() {
			return nil, &LimitationError{
				Field:  group.Name + "." + c.Name,
				Reason: "groups nested inside the rows group cannot be flattened",
			}
		}
	}

	l := &layout{scalars: schema.Scalars(fields), group: group}
	taken := map[string]struct{}{LabelColumn: {}}
	l.columns = append(l.columns, LabelColumn)
	for _, s := range l.scalars {
		taken[s.Name] = struct{}{}
		l.columns = append(l.columns, s.Name)
	}
	for _, c := range group.Children {
		col := c.Name
		if _, clash := taken[col]; clash {
			col = group.Name + "." + c.Name
			if _, clash := taken[col]; clash {
				return nil, &LimitationError{
					Field:  group.Name + "." + c.Name,
					Reason: fmt.Sprintf("column %q is already taken by a top-level field", col),
				}
			}
		}
		taken[col] = struct{}{}
		l.children = append(l.children, col)
		l.columns = append(l.columns, col)
	}
	return l, nil
}

func rowsGroup(fields []schema.Field, name string) (schema.Field, error) {
	if name != "" {
		f, ok := schema.Lookup(fields, name)
		if !ok || !f.IsGroup() {
			return schema.Field{}, &LimitationError{Field: name, Reason: "rows field is not a top-level group"}
		}
		return f, nil
	}
	groups := schema.Groups(fields)
	switch len(groups) {
	case 1:
		return groups[0], nil
	case 0:
		return schema.Field{}, &LimitationError{Reason: "schema has no group to produce rows"}
	default:
		return schema.Field{}, &LimitationError{
			Reason: fmt.Sprintf("schema has %d groups; choose the rows field", len(groups)),
		}
	}
}

// Columns returns the header produced for a schema.
func Columns(fields []schema.Field, opts Options) ([]string, error) {
	l, err := resolve(fields, opts)
	if err != nil {
		return nil, err
	}
	return l.columns, nil
}

// Flatten produces one row per element of the rows group. An empty group yields no rows;
// use Summary to keep the document's scalars in that case.
func Flatten(label string, rec record.Record, opts Options) ([]Row, error) {
	l, err := resolve(rec.Fields(), opts)
	if err != nil {
		return nil, err
	}
	return l.rows(label, rec), nil
}

func (l *layout) base(label string, rec record.Record) Row {
	row := make(Row, 0, len(l.columns))
	row = append(row, Cell{Column: LabelColumn, Value: label})
	for _, s := range l.scalars {
		v, _ := rec.Get(s.Name)
		row = append(row, Cell{Column: s.Name, Value: v.Interface()})
	}
	return row
}

func (l *layout) rows(label string, rec record.Record) []Row {
	elems, _ := rec.Group(l.group.Name)
	if len(elems) == 0 {
		return nil
	}
	base := l.base(label, rec)
	out := make([]Row, 0, len(elems))
	for _, elem := range elems {
		row := make(Row, len(base), len(l.columns))
		copy(row, base)
		for i, c := range l.group.Children {
			v, _ := elem.Get(c.Name)
			row = append(row, Cell{Column: l.children[i], Value: v.Interface()})
		}
		out = append(out, row)
	}
	return out
}

// Summary returns the label and top-level scalars of a record as a single row.
func Summary(label string, rec record.Record) Row {
	scalars := schema.Scalars(rec.Fields())
	row := make(Row, 0, len(scalars)+1)
	row = append(row, Cell{Column: LabelColumn, Value: label})
	for _, s := range scalars {
		v, _ := rec.Get(s.Name)
		row = append(row, Cell{Column: s.Name, Value: v.Interface()})
	}
	return row
}

// FlattenBatch flattens records in order into a single table for the given schema.
func FlattenBatch(fields []schema.Field, batch []record.Labeled, opts Options) (*Table, error) {
	l, err := resolve(fields, opts)
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: l.columns}
	for _, item := range batch {
		t.Rows = append(t.Rows, l.rows(item.Label, item.Record)...)
	}
	return t, nil
}
