// Package execute runs a rewritten query against a live database and prints
// the result set as tab-separated text.
package execute

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/qmap/pkg/errors"
	"github.com/ha1tch/qmap/pkg/log"
)

// Target identifies the database to run against. Database is the same name
// used for rewriting; DSN is a file path for SQLite and a connection string
// for the server engines.
type Target struct {
	Database string
	DSN      string
}

// DriverFor returns the database/sql driver registered for a database name.
func DriverFor(database string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(database)) {
	case "sqlite", "sqlite3":
		return "sqlite3", true
	case "postgresql", "postgres", "pg":
		return "pgx", true
	case "sqlserver", "mssql", "tsql":
		return "sqlserver", true
	default:
		return "", false
	}
}

// Executor holds an open database handle.
type Executor struct {
	db     *sql.DB
	driver string
	logger *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for execution events.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Open connects to target and verifies the connection.
func Open(ctx context.Context, target Target, opts ...Option) (*Executor, error) {
	driver, ok := DriverFor(target.Database)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeExecUnsupported,
			"execution is not supported for database %q", target.Database).
			WithField("database", target.Database).
			Err()
	}
	if target.DSN == "" {
		return nil, errors.InvalidArgument("dsn", "must not be empty").WithOp("execute.Open").Err()
	}

	e := &Executor{driver: driver, logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}

	db, err := sql.Open(driver, target.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeExecOpen, "failed to open %s database", target.Database).
			WithField("driver", driver).
			Err()
	}
	if driver == "sqlite3" {
		// one connection keeps ":memory:" databases alive between calls
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, errors.ErrCodeExecOpen, "failed to connect to %s database", target.Database).
			WithField("driver", driver).
			Err()
	}

	e.db = db
	e.logger.Execution().Info("database opened", "driver", driver)
	return e, nil
}

// Close closes the database handle.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Run executes query and writes the result to w: a header row, a rule, then
// one line per row with NULL for nulls, or "No data" if there are no rows.
// It returns the number of rows written. A statement that produces no
// columns is an ErrCodeExecNoColumns error.
func (e *Executor) Run(ctx context.Context, query string, w io.Writer) (int, error) {
	start := time.Now()

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeExecQuery, "error preparing query").
			WithField("driver", e.driver).
			Err()
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeExecQuery, "error reading columns").Err()
	}
	if len(types) == 0 {
		return 0, errors.New(errors.ErrCodeExecNoColumns, "no columns in result").Err()
	}

	header := make([]string, len(types))
	numeric := make([]bool, len(types))
	for i, ct := range types {
		header[i] = ct.Name()
		numeric[i] = isDecimalType(ct.DatabaseTypeName())
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	fmt.Fprintln(w, strings.Repeat("-", 64))

	values := make([]interface{}, len(types))
	ptrs := make([]interface{}, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := 0
	cells := make([]string, len(types))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, errors.Wrap(err, errors.ErrCodeExecQuery, "error executing query").Err()
		}
		for i, v := range values {
			cells[i] = formatValue(v, numeric[i])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		return count, errors.Wrap(err, errors.ErrCodeExecQuery, "error executing query").Err()
	}

	if count == 0 {
		fmt.Fprintln(w, "No data")
	}

	e.logger.Execution().Info("query executed",
		"driver", e.driver,
		"rows", count,
		"elapsed", time.Since(start).String(),
	)
	return count, nil
}

func isDecimalType(name string) bool {
	name = strings.ToUpper(name)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	switch strings.TrimSpace(name) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}

func formatValue(v interface{}, numeric bool) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return formatText(string(x), numeric)
	case string:
		return formatText(x, numeric)
	case float64:
		return decimal.NewFromFloat(x).String()
	case float32:
		return decimal.NewFromFloat32(x).String()
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

func formatText(s string, numeric bool) string {
	if !numeric {
		return s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}
