package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gokpi/domain/dataset"
	"gokpi/internal"
	"gokpi/internal/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	return db, nil
}

// QueryConfig names a dataset and the query that produces it
type QueryConfig struct {
	Name  string        `json:"name" validate:"required"`
	Query string        `json:"query" validate:"required"`
	Args  []interface{} `json:"args,omitempty"`
}

// DatasetReader reads the result set of one query as a dataset
type DatasetReader struct {
	db     *sqlx.DB
	config QueryConfig
	logger *internal.Logger
}

// NewDatasetReader creates a reader over db
func NewDatasetReader(db *sqlx.DB, config QueryConfig) *DatasetReader {
	return &DatasetReader{db: db, config: config, logger: internal.DefaultLogger.With("PostgresReader")}
}

// ReadDataset runs the query and converts every value to its cell text.
// Date and timestamp columns are typed as datetime; other kinds are inferred
// from the cells as for files.
func (r *DatasetReader) ReadDataset(ctx context.Context) (*dataset.Dataset, error) {
	start := time.Now()
	rows, err := r.db.QueryxContext(ctx, r.config.Query, r.config.Args...)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Sprintf("query for %q failed", r.config.Name), err)
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, errors.DatabaseError("failed to read result columns", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.DatabaseError("failed to read result column types", err)
	}
	kinds := make(map[string]dataset.ColumnKind)
	for i, ct := range types {
		if isTemporalType(ct.DatabaseTypeName()) {
			kinds[headers[i]] = dataset.KindDatetime
		}
	}

	var cells [][]string
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.DatabaseError("failed to scan row", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = cellText(v)
		}
		cells = append(cells, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("failed to iterate rows", err)
	}

	ds, err := dataset.New(r.config.Name, headers, cells, kinds)
	if err != nil {
		return nil, errors.DatasetInvalid("query result is not a usable table", err)
	}
	r.logger.Info("query %q returned %d rows, %d columns in %.2fms",
		r.config.Name, ds.RowCount(), len(headers), float64(time.Since(start).Nanoseconds())/1e6)
	return ds, nil
}

func isTemporalType(name string) bool {
	switch strings.ToUpper(name) {
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return true
	}
	return false
}

// cellText renders a scanned driver value the way a CSV export would
func cellText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}
