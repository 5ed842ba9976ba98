package excel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gokpi/domain/dataset"
	"gokpi/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadDataset_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"Order Date,Sales Amount,Region\n2024-01-05,60,North\n2024-01-20,40\n2024-02-10,120,South\n"), 0o644))

	ds, err := NewDataReader(Config{FilePath: path}).ReadDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "orders", ds.Name)
	assert.Equal(t, 3, ds.RowCount())
	assert.Equal(t, []string{"Order Date", "Sales Amount", "Region"}, ds.ColumnNames())

	sales, ok := ds.Column("Sales Amount")
	require.True(t, ok)
	assert.Equal(t, dataset.KindNumeric, sales.Kind)
	region, _ := ds.Column("Region")
	assert.Equal(t, "", region.Cells[1], "ragged row padded")
}

func TestReadCSV_Delimiter(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("a;b\n1;2\n"), ';')
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestReadDataset_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Order Date", "Revenue", "Region"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"2024-01-05", 100, "North"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"2024-02-05", 50.5, "South"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ds, err := NewDataReader(Config{FilePath: path, Name: "q1"}).ReadDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "q1", ds.Name)
	rev, ok := ds.Column("Revenue")
	require.True(t, ok)
	assert.Equal(t, []float64{100, 50.5}, rev.Numbers())
}

func TestSerialToDate(t *testing.T) {
	serial := 45296.0 // 2024-01-05
	assert.Equal(t, "2024-01-05", serialToDate("45296"))
	assert.Equal(t, "2024-01-05 12:00:00", serialToDate("45296.5"))
	assert.Equal(t, "n/a", serialToDate("n/a"))

	got, err := excelize.ExcelDateToTime(serial, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), got.UTC())
}

func TestReadDataset_Errors(t *testing.T) {
	_, err := NewDataReader(Config{FilePath: filepath.Join(t.TempDir(), "missing.csv")}).ReadDataset(context.Background())
	assert.Equal(t, errors.CodeDatasetInvalid, errors.GetCode(err))

	headerOnly := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(headerOnly, []byte("a,b\n"), 0o644))
	_, err = NewDataReader(Config{FilePath: headerOnly}).ReadDataset(context.Background())
	assert.Equal(t, errors.CodeDatasetInvalid, errors.GetCode(err))
}
