package system

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DatabaseURLKey is the credential holding the connection URL.
const DatabaseURLKey = "DATABASE_URL"

// Database is the "Database Query" action. Connection pools are cached per
// URL and live until Close.
type Database struct {
	creds  credentials.Fetcher
	logger *zap.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewDatabase creates the action.
func NewDatabase(creds credentials.Fetcher, logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{creds: creds, logger: logger, dbs: make(map[string]*sql.DB)}
}

// Action returns the registrable action.
func (d *Database) Action() actions.Action {
	return actions.Action{
		ID:          actions.DatabaseQuery,
		Label:       actions.DatabaseQuery,
		Category:    "System",
		Description: "Run a SQL query against the integration's database",
		Step:        d.step,
	}
}

func (d *Database) step(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	var errs []actions.FieldError
	query := strings.TrimSpace(in.String("dbQuery"))
	if query == "" {
		errs = append(errs, actions.FieldError{Field: "dbQuery", Message: "Query is required"})
	}
	params, err := queryParams(in.Config["dbParams"])
	if err != nil {
		errs = append(errs, actions.FieldError{Field: "dbParams", Message: "Parameters must be a JSON array"})
	}
	if len(errs) > 0 {
		return actions.ValidationFailure(errs...), nil
	}

	fields, err := credentials.ForIntegration(ctx, d.creds, in.IntegrationID)
	if err != nil {
		return actions.Failure(fmt.Sprintf("Failed to load database credentials: %v", err), nil), nil
	}
	dsn := fields[DatabaseURLKey]
	if dsn == "" {
		return actions.Failure("Database credentials not configured", nil), nil
	}

	db, err := d.open(dsn)
	if err != nil {
		return actions.Failure(fmt.Sprintf("Database connection failed: %v", err), nil), nil
	}

	start := time.Now()
	rows, err := queryRows(ctx, db, query, params)
	if err != nil {
		return actions.Failure(fmt.Sprintf("Database query failed: %v", err), map[string]any{"rows": []any{}, "count": 0}), nil
	}
	d.logger.Debug("Database query completed",
		zap.String("node_id", in.Context.NodeID),
		zap.Int("rows", len(rows)),
		zap.Duration("duration", time.Since(start)))

	return actions.Success(map[string]any{"rows": rows, "count": len(rows)}), nil
}

// open returns the cached pool for dsn.
func (d *Database) open(dsn string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if db, ok := d.dbs[dsn]; ok {
		return db, nil
	}
	driver, source, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	d.dbs[dsn] = db
	return db, nil
}

// Close closes every cached pool.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for dsn, db := range d.dbs {
		errs = append(errs, db.Close())
		delete(d.dbs, dsn)
	}
	return errors.Join(errs...)
}

// driverFor maps a connection URL to a registered database/sql driver.
func driverFor(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite", dsn, nil
	}
	scheme := dsn
	if i := strings.Index(dsn, ":"); i >= 0 {
		scheme = dsn[:i]
	}
	return "", "", fmt.Errorf("unsupported database URL scheme %q", scheme)
}

// queryParams accepts a JSON array string or a decoded slice.
func queryParams(v any) ([]any, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return p, nil
	case string:
		if strings.TrimSpace(p) == "" {
			return nil, nil
		}
		var out []any
		if err := decodeJSON(p, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported params of type %T", v)
}

func queryRows(ctx context.Context, db *sql.DB, query string, params []any) ([]any, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
