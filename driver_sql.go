package tursoorm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Preparer is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SQLDriver prepares statements through database/sql.
type SQLDriver struct {
	db Preparer
}

type sqlStmt struct {
	stmt   *sql.Stmt
	closed atomic.Bool
}

type sqlTx struct {
	SQLDriver
	tx *sql.Tx
}

// Ensure the database/sql types implement the required interfaces.
var (
	_ TxDriver      = (*SQLDriver)(nil)
	_ Stmt          = (*sqlStmt)(nil)
	_ TxBoundDriver = (*sqlTx)(nil)
)

// NewSQLDriver wraps a *sql.DB, *sql.Conn or *sql.Tx.
func NewSQLDriver(db Preparer) *SQLDriver {
	return &SQLDriver{db: db}
}

// FromGorm returns a SQLDriver sharing the connection pool of a gorm handle.
func FromGorm(db *gorm.DB) (*SQLDriver, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return NewSQLDriver(sqlDB), nil
}

func (d *SQLDriver) Prepare(ctx context.Context, query string) (Stmt, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyStatement
	}
	stmt, err := d.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlStmt{stmt: stmt}, nil
}

// Begin starts a transaction. Only *sql.DB and *sql.Conn can begin one.
func (d *SQLDriver) Begin(ctx context.Context) (TxBoundDriver, error) {
	b, ok := d.db.(txBeginner)
	if !ok {
		return nil, ErrNoTxSupport
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{SQLDriver: SQLDriver{db: tx}, tx: tx}, nil
}

// --- Stmt ---

func (s *sqlStmt) Run(ctx context.Context, args ...any) (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrStmtClosed
	}
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return Result{}, err
	}
	// the statement already ran; drivers without these report zero
	var result Result
	if id, err := res.LastInsertId(); err == nil {
		result.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		result.RowsAffected = n
	}
	return result, nil
}

func (s *sqlStmt) All(ctx context.Context, args ...any) ([][]any, error) {
	return s.Values(ctx, args...)
}

func (s *sqlStmt) Get(ctx context.Context, args ...any) ([]any, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrStmtClosed
	}
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (s *sqlStmt) Values(ctx context.Context, args ...any) ([][]any, error) {
	if s.closed.Load() {
		return nil, ErrStmtClosed
	}
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := [][]any{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *sqlStmt) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.stmt.Close()
}

func scanRow(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	row := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return row, nil
}

// --- TxBoundDriver ---

func (tx *sqlTx) Commit() error {
	if err := tx.tx.Commit(); err != nil {
		if err == sql.ErrTxDone {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func (tx *sqlTx) Rollback() error {
	if err := tx.tx.Rollback(); err != nil {
		if err == sql.ErrTxDone {
			return ErrTxDone
		}
		return err
	}
	return nil
}

// --- go-sqlite3 connector ---

type sqliteConnector struct {
	driver *sqlite3.SQLiteDriver
	dsn    string
}

var _ driver.Connector = (*sqliteConnector)(nil)

func (c *sqliteConnector) Connect(ctx context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *sqliteConnector) Driver() driver.Driver {
	return c.driver
}

// OpenSQLite opens a go-sqlite3 database. In-memory databases are private to
// a connection, so the pool is limited to one connection for them.
func OpenSQLite(dsn string) *sql.DB {
	db := sql.OpenDB(&sqliteConnector{driver: &sqlite3.SQLiteDriver{}, dsn: dsn})
	if isMemoryPath(dsn) {
		db.SetMaxOpenConns(1)
	}
	return db
}

func isMemoryPath(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
