package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

func batch(t *testing.T) []record.Labeled {
	t.Helper()
	v := record.NewValidator(schema.Default())
	rec1, err := v.ValidateJSON([]byte(`{"company":"Acme, Inc.","address":"1 Road","total_sum":40.5,
		"items":[{"item":"Bolt","unit_price":10,"quantity":3,"sum":30},{"item":"Nut","unit_price":10.5,"quantity":1,"sum":10.5}]}`))
	require.NoError(t, err)
	rec2, err := v.ValidateJSON([]byte(`{"company":"Empty","address":"-","total_sum":0,"items":[]}`))
	require.NoError(t, err)
	return []record.Labeled{{Label: "a.pdf", Record: rec1}, {Label: "b.pdf", Record: rec2}}
}

func TestExportXLSX(t *testing.T) {
	s := NewService(nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	f, err := s.Export(context.Background(), schema.Default(), batch(t), flatten.Options{}, FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "extracted_data_1700000000123.xlsx", f.Name)
	assert.Equal(t, 2, f.Rows)

	wb, err := excelize.OpenReader(bytes.NewReader(f.Data))
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"Extracted Data"}, wb.GetSheetList())

	rows, err := wb.GetRows("Extracted Data")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"File Name", "company", "address", "total_sum", "item", "unit_price", "quantity", "sum"}, rows[0])
	assert.Equal(t, []string{"a.pdf", "Acme, Inc.", "1 Road", "40.5", "Bolt", "10", "3", "30"}, rows[1])
	assert.Equal(t, "Nut", rows[2][4])
}

func TestExportCSV(t *testing.T) {
	f, err := NewService(nil).Export(context.Background(), schema.Default(), batch(t), flatten.Options{}, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", f.ContentType)
	assert.Equal(t,
		"File Name,company,address,total_sum,item,unit_price,quantity,sum\n"+
			"a.pdf,\"Acme, Inc.\",1 Road,40.5,Bolt,10,3,30\n"+
			"a.pdf,\"Acme, Inc.\",1 Road,40.5,Nut,10.5,1,10.5\n",
		string(f.Data))
}

func TestExportLimitation(t *testing.T) {
	fields := []schema.Field{schema.Group("a", schema.String("x")), schema.Group("b", schema.String("y"))}
	_, err := NewService(nil).Export(context.Background(), fields, nil, flatten.Options{}, FormatXLSX)
	require.ErrorIs(t, err, flatten.ErrFlatteningLimitation)
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := NewService(nil).Export(context.Background(), schema.Default(), nil, flatten.Options{}, Format("pdf"))
	require.Error(t, err)
}
