package record

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

const invoiceJSON = `{
  "company": "Acme",
  "address": "1 Road",
  "total_sum": 30,
  "items": [
    {"item": "Bolt", "unit_price": 10, "quantity": 3, "sum": 30}
  ]
}`

func TestValidateJSONInvoice(t *testing.T) {
	rec, err := NewValidator(schema.Default()).ValidateJSON([]byte(invoiceJSON))
	require.NoError(t, err)

	company, ok := rec.String("company")
	require.True(t, ok)
	assert.Equal(t, "Acme", company)

	total, ok := rec.Number("total_sum")
	require.True(t, ok)
	assert.Equal(t, 30.0, total)

	items, ok := rec.Group("items")
	require.True(t, ok)
	require.Len(t, items, 1)
	price, _ := items[0].Number("unit_price")
	assert.Equal(t, 10.0, price)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     error
		path     string
		expected string
	}{
		{
			name: "missing total_sum",
			body: `{"company":"Acme","address":"1 Road","items":[]}`,
			kind: ErrMissingField,
			path: "total_sum",
		},
		{
			name:     "numeric string is not coerced",
			body:     `{"company":"Acme","address":"1 Road","total_sum":"30","items":[]}`,
			kind:     ErrTypeMismatch,
			path:     "total_sum",
			expected: "number",
		},
		{
			name:     "word for a number",
			body:     `{"company":"Acme","address":"1 Road","total_sum":"thirty","items":[]}`,
			kind:     ErrTypeMismatch,
			path:     "total_sum",
			expected: "number",
		},
		{
			name:     "number for a string",
			body:     `{"company":42,"address":"1 Road","total_sum":1,"items":[]}`,
			kind:     ErrTypeMismatch,
			path:     "company",
			expected: "string",
		},
		{
			name:     "group is not an array",
			body:     `{"company":"Acme","address":"1 Road","total_sum":1,"items":{}}`,
			kind:     ErrTypeMismatch,
			path:     "items",
			expected: "array",
		},
		{
			name: "empty element fails before later non-object",
			body: `{"company":"Acme","address":"1 Road","total_sum":1,"items":[{"item":"a","unit_price":1,"quantity":1,"sum":1},{},7]}`,
			kind: ErrMissingField,
			path: "items[1].item",
		},
		{
			name:     "scalar element",
			body:     `{"company":"Acme","address":"1 Road","total_sum":1,"items":[7]}`,
			kind:     ErrTypeMismatch,
			path:     "items[0]",
			expected: "object",
		},
		{
			name:     "nested mismatch path",
			body:     `{"company":"Acme","address":"1 Road","total_sum":1,"items":[{"item":"a","unit_price":1,"quantity":1,"sum":1},{"item":"b","unit_price":1,"quantity":1,"sum":1},{"item":"c","unit_price":"x","quantity":1,"sum":1}]}`,
			kind:     ErrTypeMismatch,
			path:     "items[2].unit_price",
			expected: "number",
		},
		{
			name:     "null is not a string",
			body:     `{"company":null,"address":"1 Road","total_sum":1,"items":[]}`,
			kind:     ErrTypeMismatch,
			path:     "company",
			expected: "string",
		},
		{
			name: "first failure in schema order wins",
			body: `{"address":3,"items":[]}`,
			kind: ErrMissingField,
			path: "company",
		},
	}

	v := NewValidator(schema.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateJSON([]byte(tt.body))
			require.ErrorIs(t, err, tt.kind)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.path, ve.Path)
			assert.Equal(t, tt.expected, ve.Expected)
		})
	}
}

func TestValidateExtraPropertiesDropped(t *testing.T) {
	fields := []schema.Field{schema.String("company")}
	rec, err := NewValidator(fields).ValidateJSON([]byte(`{"company":"Acme","confidence":0.9}`))
	require.NoError(t, err)

	_, ok := rec.Get("confidence")
	assert.False(t, ok)
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"company":"Acme"}`, string(b))
}

func TestValidateNonFinite(t *testing.T) {
	v := NewValidator([]schema.Field{schema.Number("n")})
	for _, n := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := v.Validate(map[string]any{"n": n})
		require.ErrorIs(t, err, ErrTypeMismatch)
	}
	rec, err := v.Validate(map[string]any{"n": 7})
	require.NoError(t, err)
	n, _ := rec.Number("n")
	assert.Equal(t, 7.0, n)
}

func TestValidateJSONTopLevel(t *testing.T) {
	v := NewValidator([]schema.Field{schema.String("a")})
	_, err := v.ValidateJSON([]byte(`[1,2]`))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = v.ValidateJSON([]byte(`{not json`))
	require.Error(t, err)

	_, err = v.ValidateJSON([]byte(`{"a":"x"} garbage{`))
	require.Error(t, err)

	_, err = v.ValidateJSON([]byte(`{"a":"x"} {"a":"y"}`))
	require.Error(t, err)

	rec, err := v.ValidateJSON([]byte("{\"a\":\"x\"}\n"))
	require.NoError(t, err)
	s, _ := rec.String("a")
	assert.Equal(t, "x", s)
}

func TestRecordImmutable(t *testing.T) {
	fields := schema.Default()
	rec, err := NewValidator(fields).ValidateJSON([]byte(invoiceJSON))
	require.NoError(t, err)

	fields[0].Name = "renamed"
	items, _ := rec.Group("items")
	items[0] = Record{}

	_, ok := rec.String("company")
	assert.True(t, ok)
	again, _ := rec.Group("items")
	assert.Equal(t, 4, again[0].Len())

	got := rec.Fields()
	got[0].Name = "x"
	assert.Equal(t, "company", rec.Fields()[0].Name)
}

func TestRecordFieldsDoNotShareValidatorSchema(t *testing.T) {
	v := NewValidator(schema.Default())
	rec, err := v.ValidateJSON([]byte(invoiceJSON))
	require.NoError(t, err)

	got := rec.Fields()
	require.True(t, got[3].IsGroup())
	got[3].Children[1].Name = "renamed"

	assert.Equal(t, "unit_price", rec.Fields()[3].Children[1].Name)
	again, err := v.ValidateJSON([]byte(invoiceJSON))
	require.NoError(t, err)
	items, _ := again.Group("items")
	price, ok := items[0].Number("unit_price")
	require.True(t, ok)
	assert.Equal(t, 10.0, price)
}

func TestRecordMarshalOrder(t *testing.T) {
	rec, err := NewValidator(schema.Default()).ValidateJSON([]byte(invoiceJSON))
	require.NoError(t, err)
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"company":"Acme","address":"1 Road","total_sum":30,"items":[{"item":"Bolt","unit_price":10,"quantity":3,"sum":30}]}`,
		string(b))

	m := rec.Map()
	assert.Equal(t, "Acme", m["company"])
	assert.Equal(t, []map[string]any{{"item": "Bolt", "unit_price": 10.0, "quantity": 3.0, "sum": 30.0}}, m["items"])
}
