package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gokpi/domain/dataset"
	"gokpi/internal"
	"gokpi/internal/errors"

	"github.com/xuri/excelize/v2"
)

// DataReader reads a CSV or XLSX file into a dataset
type DataReader struct {
	config   Config
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader creates a reader; the file type follows the extension
func NewDataReader(config Config) *DataReader {
	fileType := "xlsx"
	if strings.EqualFold(filepath.Ext(config.FilePath), ".csv") {
		fileType = "csv"
	}
	return &DataReader{config: config, fileType: fileType, logger: internal.DefaultLogger.With("DataReader")}
}

// ReadDataset reads the whole file. Column kinds are inferred from the cells;
// XLSX date-formatted columns are converted to ISO dates first.
func (r *DataReader) ReadDataset(ctx context.Context) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.config.FilePath); os.IsNotExist(err) {
		return nil, errors.DatasetInvalid(fmt.Sprintf("%s file not found: %s", strings.ToUpper(r.fileType), r.config.FilePath), err)
	}

	start := time.Now()
	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readXLSX()
	}
	if err != nil {
		return nil, errors.DatasetInvalid("failed to read "+r.config.FilePath, err)
	}
	if len(rows) < 2 {
		return nil, errors.DatasetInvalid(fmt.Sprintf("%s file must have a header row and at least one data row", strings.ToUpper(r.fileType)), nil)
	}

	ds, err := dataset.New(r.datasetName(), rows[0], rows[1:], nil)
	if err != nil {
		return nil, errors.DatasetInvalid("invalid table layout", err)
	}
	r.logger.Info("%s read in %.2fms (%d columns, %d rows)",
		filepath.Base(r.config.FilePath), float64(time.Since(start).Nanoseconds())/1e6, len(rows[0]), ds.RowCount())
	return ds, nil
}

func (r *DataReader) datasetName() string {
	if r.config.Name != "" {
		return r.config.Name
	}
	base := filepath.Base(r.config.FilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()
	return ReadCSV(file, r.config.Delimiter)
}

// ReadCSV reads every record; ragged rows are allowed and padded later
func ReadCSV(src io.Reader, delimiter rune) ([][]string, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return rows, nil
}

func (r *DataReader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(r.config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.config.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return rows, nil
	}

	for col := range rows[0] {
		if !r.isDateColumn(f, sheet, col) {
			continue
		}
		for i := 1; i < len(rows); i++ {
			if col < len(rows[i]) {
				rows[i][col] = serialToDate(rows[i][col])
			}
		}
	}
	return rows, nil
}

// isDateColumn reports whether the first data cell of col carries a date
// number format. Raw reads turn such cells into day serials.
func (r *DataReader) isDateColumn(f *excelize.File, sheet string, col int) bool {
	cell, err := excelize.CoordinatesToCellName(col+1, 2)
	if err != nil {
		return false
	}
	styleID, err := f.GetCellStyle(sheet, cell)
	if err != nil || styleID == 0 {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	if (style.NumFmt >= 14 && style.NumFmt <= 22) || (style.NumFmt >= 45 && style.NumFmt <= 47) {
		return true
	}
	if style.CustomNumFmt != nil {
		fmtStr := strings.ToLower(*style.CustomNumFmt)
		return strings.Contains(fmtStr, "yy") || strings.Contains(fmtStr, "dd")
	}
	return false
}

func serialToDate(cell string) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return cell
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return cell
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}
