package datalake

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/adapter"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Scheme identifies the backend selected by a data source URL.
type Scheme string

const (
	SchemePostgres   Scheme = "postgres"
	SchemeClickHouse Scheme = "clickhouse"
	SchemeDuckDB     Scheme = "duckdb"
	SchemeMySQL      Scheme = "mysql"
	SchemeSQLite     Scheme = "sqlite"
	SchemeBigQuery   Scheme = "bigquery"
)

// DetectScheme maps a data source URL to its backend.
func DetectScheme(dsn string) (Scheme, error) {
	prefix, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", goerr.Wrap(ErrUnsupportedScheme, "data source URL has no scheme")
	}

	switch strings.ToLower(prefix) {
	case "postgres", "postgresql":
		return SchemePostgres, nil
	case "clickhouse":
		return SchemeClickHouse, nil
	case "duckdb":
		return SchemeDuckDB, nil
	case "mysql":
		return SchemeMySQL, nil
	case "sqlite", "sqlite3":
		return SchemeSQLite, nil
	case "bigquery":
		return SchemeBigQuery, nil
	}
	return "", goerr.Wrap(ErrUnsupportedScheme, "unknown data source scheme", goerr.V("scheme", prefix))
}

// Open builds an Executor for the URL and checks connectivity once. An empty
// URL returns ErrNotConfigured.
func Open(ctx context.Context, dsn string, opts ...Option) (Executor, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrNotConfigured
	}

	scheme, err := DetectScheme(dsn)
	if err != nil {
		return nil, err
	}

	if scheme == SchemeBigQuery {
		_, project, _ := strings.Cut(dsn, "://")
		project = strings.Trim(project, "/")
		if project == "" {
			return nil, goerr.New("bigquery data source URL needs a project, e.g. bigquery://my-project")
		}
		o := defaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		client, err := adapter.NewBigQuery(ctx, project, adapter.WithJobLocations(o.jobLocations...))
		if err != nil {
			return nil, err
		}
		return NewBigQuery(client, opts...), nil
	}

	db, err := openDB(scheme, dsn)
	if err != nil {
		return nil, err
	}

	x := NewSQL(db, opts...)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect to data source", goerr.V("scheme", scheme))
	}
	return x, nil
}

func openDB(scheme Scheme, dsn string) (*sql.DB, error) {
	_, rest, _ := strings.Cut(dsn, "://")

	switch scheme {
	case SchemePostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open postgres data source")
		}
		return db, nil

	case SchemeClickHouse:
		opt, err := clickhouse.ParseDSN(dsn)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse clickhouse data source URL")
		}
		return clickhouse.OpenDB(opt), nil

	case SchemeMySQL:
		cfg, err := mysqlConfig(dsn)
		if err != nil {
			return nil, err
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create mysql connector")
		}
		return sql.OpenDB(connector), nil

	case SchemeDuckDB:
		// duckdb:// alone opens an in-memory database
		db, err := sql.Open("duckdb", rest)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open duckdb data source")
		}
		return db, nil

	case SchemeSQLite:
		db, err := sql.Open("sqlite", rest)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite data source")
		}
		return db, nil
	}

	return nil, goerr.Wrap(ErrUnsupportedScheme, "no database/sql driver for scheme", goerr.V("scheme", scheme))
}

func mysqlConfig(dsn string) (*mysql.Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse mysql data source URL")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if len(u.Query()) > 0 {
		cfg.Params = make(map[string]string)
		for k, v := range u.Query() {
			cfg.Params[k] = v[0]
		}
	}
	return cfg, nil
}

// SQL executes statements through a pooled database/sql handle. The pool
// hands each statement its own connection, so concurrent runs never
// interleave on one connection.
type SQL struct {
	db       *sql.DB
	rowLimit int
}

// NewSQL wraps an opened handle and applies pool settings.
func NewSQL(db *sql.DB, opts ...Option) *SQL {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}
	db.SetMaxIdleConns(o.maxIdleConns)
	db.SetConnMaxLifetime(o.connMaxLifetime)

	return &SQL{db: db, rowLimit: o.rowLimit}
}

func (x *SQL) Execute(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := x.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newExecutionError(query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, newExecutionError(query, err)
	}

	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		if x.rowLimit > 0 && len(rs.Rows) >= x.rowLimit {
			rs.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newExecutionError(query, err)
		}

		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, newExecutionError(query, err)
	}

	return rs, nil
}

func (x *SQL) Close() error {
	if err := x.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close data source")
	}
	return nil
}
