package tursoorm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// define all package level structs here

// NativeDriver prepares statements directly on a SQLite connection. Access to
// the connection is serialized, so a NativeDriver may be shared between
// goroutines even though the connection itself may not.
type NativeDriver struct {
	conn *sqlite.Conn
	mu   sync.Mutex
}

type nativeStmt struct {
	driver *NativeDriver
	stmt   *sqlite.Stmt
	closed bool
}

type nativeTx struct {
	driver *NativeDriver
	done   bool
}

// Ensure the native types implement the required interfaces.
var (
	_ TxDriver      = (*NativeDriver)(nil)
	_ Stmt          = (*nativeStmt)(nil)
	_ TxBoundDriver = (*nativeTx)(nil)
)

// NewNativeDriver wraps an open connection. The caller keeps ownership of
// conn and must close every statement before closing it.
func NewNativeDriver(conn *sqlite.Conn) *NativeDriver {
	return &NativeDriver{conn: conn}
}

// Conn returns the underlying connection.
func (d *NativeDriver) Conn() *sqlite.Conn {
	return d.conn
}

// Prepare compiles a single statement. Each call returns its own native
// handle, even for identical SQL text.
func (d *NativeDriver) Prepare(ctx context.Context, query string) (Stmt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	stmt, trailing, err := d.conn.PrepareTransient(query)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, ErrEmptyStatement
	}
	if trailing > 0 && strings.TrimSpace(query[len(query)-trailing:]) != "" {
		_ = stmt.Finalize()
		return nil, ErrMultipleStatements
	}
	return &nativeStmt{driver: d, stmt: stmt}, nil
}

func (d *NativeDriver) Begin(ctx context.Context) (TxBoundDriver, error) {
	if err := d.exec(ctx, "BEGIN"); err != nil {
		return nil, err
	}
	return &nativeTx{driver: d}, nil
}

func (d *NativeDriver) exec(ctx context.Context, query string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sqlitex.ExecuteTransient(d.conn, query, nil)
}

// --- Stmt ---

func (s *nativeStmt) Run(ctx context.Context, args ...any) (Result, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if err := s.start(ctx, args); err != nil {
		return Result{}, err
	}
	defer func() { _ = s.stmt.Reset() }()
	for {
		hasRow, err := s.stmt.Step()
		if err != nil {
			return Result{}, err
		}
		if !hasRow {
			break
		}
	}
	return Result{
		LastInsertID: s.driver.conn.LastInsertRowID(),
		RowsAffected: int64(s.driver.conn.Changes()),
	}, nil
}

func (s *nativeStmt) All(ctx context.Context, args ...any) ([][]any, error) {
	return s.Values(ctx, args...)
}

func (s *nativeStmt) Get(ctx context.Context, args ...any) ([]any, bool, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if err := s.start(ctx, args); err != nil {
		return nil, false, err
	}
	defer func() { _ = s.stmt.Reset() }()
	hasRow, err := s.stmt.Step()
	if err != nil || !hasRow {
		return nil, false, err
	}
	return s.row(), true, nil
}

func (s *nativeStmt) Values(ctx context.Context, args ...any) ([][]any, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if err := s.start(ctx, args); err != nil {
		return nil, err
	}
	defer func() { _ = s.stmt.Reset() }()
	rows := [][]any{}
	for {
		hasRow, err := s.stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			return rows, nil
		}
		rows = append(rows, s.row())
	}
}

func (s *nativeStmt) Close() error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stmt.Finalize()
}

// start clears the previous bindings and binds args; callers hold the lock.
func (s *nativeStmt) start(ctx context.Context, args []any) error {
	if s.closed {
		return ErrStmtClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.stmt.ClearBindings(); err != nil {
		return err
	}
	if want := s.stmt.BindParamCount(); len(args) != want {
		return fmt.Errorf("tursoorm: got %d args, want %d", len(args), want)
	}
	for i, arg := range args {
		if err := s.bindOne(i+1, arg); err != nil {
			return err
		}
	}
	return nil
}

func (s *nativeStmt) bindOne(position int, arg any) error {
	v, err := bindValue(arg)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		s.stmt.BindNull(position)
	case int64:
		s.stmt.BindInt64(position, x)
	case float64:
		s.stmt.BindFloat(position, x)
	case string:
		s.stmt.BindText(position, x)
	case []byte:
		s.stmt.BindBytes(position, x)
	default:
		return fmt.Errorf("tursoorm: cannot bind %T", v)
	}
	return nil
}

// row decodes the current row by storage class.
func (s *nativeStmt) row() []any {
	n := s.stmt.ColumnCount()
	row := make([]any, n)
	for i := 0; i < n; i++ {
		switch s.stmt.ColumnType(i) {
		case sqlite.TypeInteger:
			row[i] = s.stmt.ColumnInt64(i)
		case sqlite.TypeFloat:
			row[i] = s.stmt.ColumnFloat(i)
		case sqlite.TypeText:
			row[i] = s.stmt.ColumnText(i)
		case sqlite.TypeBlob:
			buf := make([]byte, s.stmt.ColumnLen(i))
			s.stmt.ColumnBytes(i, buf)
			row[i] = buf
		default:
			row[i] = nil
		}
	}
	return row
}

// --- TxBoundDriver ---

func (tx *nativeTx) Prepare(ctx context.Context, query string) (Stmt, error) {
	return tx.driver.Prepare(ctx, query)
}

func (tx *nativeTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return tx.driver.exec(context.Background(), "COMMIT")
}

func (tx *nativeTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return tx.driver.exec(context.Background(), "ROLLBACK")
}
