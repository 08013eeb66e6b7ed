package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		fields  []Field
		wantErr error
		path    string
	}{
		{name: "default schema", fields: Default()},
		{name: "empty forest", fields: nil},
		{
			name:    "duplicate top-level name",
			fields:  []Field{String("a"), Number("a")},
			wantErr: ErrDuplicateSiblingName,
			path:    "a",
		},
		{
			name:    "empty name",
			fields:  []Field{String("a"), {Kind: KindString}},
			wantErr: ErrEmptyName,
			path:    "fields[1]",
		},
		{
			name:    "group without children",
			fields:  []Field{Group("items")},
			wantErr: ErrMissingGroupChildren,
			path:    "items",
		},
		{
			name:    "duplicate child name",
			fields:  []Field{Group("items", String("x"), Number("x"))},
			wantErr: ErrDuplicateSiblingName,
			path:    "items.x",
		},
		{
			name:    "same name in different groups is allowed",
			fields:  []Field{String("sum"), Group("items", Number("sum"))},
			wantErr: nil,
		},
		{
			name:    "nested empty child name",
			fields:  []Field{Group("items", Group("sub", Field{Kind: KindNumber}))},
			wantErr: ErrEmptyName,
			path:    "items.sub[0]",
		},
		{
			name:    "unknown kind",
			fields:  []Field{{Name: "x"}},
			wantErr: ErrUnknownKind,
			path:    "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.fields)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.path, se.Path)
		})
	}
}

func TestFieldJSON(t *testing.T) {
	b, err := json.Marshal(Default()[3])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"items","type":"array","fields":[
		{"name":"item","type":"string"},
		{"name":"unit_price","type":"number"},
		{"name":"quantity","type":"number"},
		{"name":"sum","type":"number"}]}`, string(b))

	var f Field
	require.NoError(t, json.Unmarshal([]byte(`{"name":"lines","type":"group","fields":[{"name":"x","type":"number"}]}`), &f))
	assert.Equal(t, Group("lines", Number("x")), f)

	err = json.Unmarshal([]byte(`{"name":"x","type":"boolean"}`), &f)
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	t.Run("bare json array", func(t *testing.T) {
		def, err := Parse([]byte(`[{"name":"company","type":"string"},{"name":"total","type":"number"}]`), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, []Field{String("company"), Number("total")}, def.Fields)
	})

	t.Run("yaml with rows field", func(t *testing.T) {
		src := `
name: invoice
rows_field: items
fields:
  - name: company
    type: string
  - name: items
    type: array
    fields:
      - name: item
        type: string
      - name: sum
        type: number
`
		def, err := Parse([]byte(src), FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, "invoice", def.Name)
		assert.Equal(t, "items", def.RowsField)
		assert.Equal(t, []Field{String("company"), Group("items", String("item"), Number("sum"))}, def.Fields)
	})

	t.Run("shape error", func(t *testing.T) {
		_, err := Parse([]byte(`{"fields":[{"name":"x"}]}`), FormatJSON)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schema definition")
	})

	t.Run("semantic error surfaces as SchemaError", func(t *testing.T) {
		_, err := Parse([]byte(`{"fields":[{"name":"x","type":"string"},{"name":"x","type":"number"}]}`), FormatJSON)
		require.ErrorIs(t, err, ErrDuplicateSiblingName)
	})

	t.Run("rows field must be a group", func(t *testing.T) {
		_, err := Parse([]byte(`{"rows_field":"company","fields":[{"name":"company","type":"string"}]}`), FormatJSON)
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.yml")
	require.NoError(t, os.WriteFile(path, []byte("- name: total\n  type: number\n"), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Field{Number("total")}, def.Fields)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestGroupsAndScalars(t *testing.T) {
	fields := Default()
	assert.Len(t, Groups(fields), 1)
	assert.Len(t, Scalars(fields), 3)
	f, ok := Lookup(fields, "items")
	require.True(t, ok)
	assert.True(t, f.IsGroup())
}
