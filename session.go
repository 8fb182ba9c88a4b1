package tursoorm

import (
	"context"
	"errors"
	"slices"
)

// define all package level errors here
var (
	ErrNoData             = errors.New("tursoorm: statement does not return any data - use Run()")
	ErrMissingPlaceholder = errors.New("tursoorm: missing placeholder value")
	ErrStmtClosed         = errors.New("tursoorm: statement closed")
	ErrTxDone             = errors.New("tursoorm: transaction done")
	ErrNoTxSupport        = errors.New("tursoorm: driver does not support transactions")
	ErrColumnMismatch     = errors.New("tursoorm: column count mismatch")
	ErrMultipleStatements = errors.New("tursoorm: multiple statements are not supported")
	ErrEmptyStatement     = errors.New("tursoorm: empty statement")
)

// Session prepares compiled queries against a Driver.
type Session struct {
	driver Driver
	logger Logger
	mapper RowMapper
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger that receives every executed query.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRowMapper replaces MapResultRow as the row mapping function.
func WithRowMapper(m RowMapper) Option {
	return func(s *Session) {
		if m != nil {
			s.mapper = m
		}
	}
}

// NewSession creates a Session over d. By default queries are not logged and
// rows are mapped with MapResultRow.
func NewSession(d Driver, opts ...Option) *Session {
	s := &Session{
		driver: d,
		logger: NoopLogger{},
		mapper: MapResultRow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver returns the driver the session prepares statements with.
func (s *Session) Driver() Driver {
	return s.driver
}

// PrepareQuery compiles a statement that does not return rows.
func (s *Session) PrepareQuery(ctx context.Context, q Query) (*Executable, error) {
	p, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Executable{p}, nil
}

// PrepareSelect compiles a row-returning statement whose rows are mapped through fields.
func (s *Session) PrepareSelect(ctx context.Context, q Query, fields Fields) (*Queryable, error) {
	return s.Prepare(ctx, q, fields)
}

// Prepare compiles q. When fields is nil the returned statement only supports
// Run; All, Get and Values fail with ErrNoData.
func (s *Session) Prepare(ctx context.Context, q Query, fields Fields) (*Queryable, error) {
	p, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Queryable{
		prepared: p,
		fields:   slices.Clone(fields),
		mapper:   s.mapper,
	}, nil
}

func (s *Session) prepare(ctx context.Context, q Query) (prepared, error) {
	stmt, err := s.driver.Prepare(ctx, q.SQL)
	if err != nil {
		return prepared{}, err
	}
	return prepared{
		stmt:   stmt,
		sql:    q.SQL,
		params: slices.Clone(q.Params),
		logger: s.logger,
	}, nil
}

// Transaction runs fn with a Session bound to a new transaction. The
// transaction is rolled back if fn returns an error or panics and committed
// otherwise. A panic is re-raised after the rollback.
func (s *Session) Transaction(ctx context.Context, fn func(tx *Session) error) error {
	txDriver, ok := s.driver.(TxDriver)
	if !ok {
		return ErrNoTxSupport
	}
	bound, err := txDriver.Begin(ctx)
	if err != nil {
		return err
	}
	tx := &Session{
		driver: bound,
		logger: s.logger,
		mapper: s.mapper,
	}
	panicked := true
	defer func() {
		if panicked {
			_ = bound.Rollback()
		}
	}()
	err = fn(tx)
	panicked = false
	if err != nil {
		if rbErr := bound.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return bound.Commit()
}

// prepared is the state shared by Executable and Queryable.
type prepared struct {
	stmt   Stmt
	sql    string
	params []any
	logger Logger
}

func (p prepared) bind(values map[string]any) ([]any, error) {
	params, err := FillPlaceholders(p.params, values)
	if err != nil {
		return nil, err
	}
	p.logger.LogQuery(p.sql, params)
	return params, nil
}

// Run executes the statement and discards its result.
func (p prepared) Run(ctx context.Context, values map[string]any) error {
	params, err := p.bind(values)
	if err != nil {
		return err
	}
	_, err = p.stmt.Run(ctx, params...)
	return err
}

// SQL returns the statement text.
func (p prepared) SQL() string {
	return p.sql
}

// Close finalizes the native statement.
func (p prepared) Close() error {
	return p.stmt.Close()
}

// Executable is a prepared statement that does not return rows.
type Executable struct {
	prepared
}

// Queryable is a prepared statement that returns rows.
type Queryable struct {
	prepared
	fields Fields
	mapper RowMapper
}

// All executes the statement and maps every row through the field descriptor.
func (q *Queryable) All(ctx context.Context, values map[string]any) ([]Row, error) {
	if q.fields == nil {
		return nil, ErrNoData
	}
	params, err := q.bind(values)
	if err != nil {
		return nil, err
	}
	raw, err := q.stmt.All(ctx, params...)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(raw))
	for _, tuple := range raw {
		row, err := q.mapper(q.fields, tuple)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Get executes the statement and maps the first row. ok is false when the
// statement produced no rows.
func (q *Queryable) Get(ctx context.Context, values map[string]any) (row Row, ok bool, err error) {
	if q.fields == nil {
		return nil, false, ErrNoData
	}
	params, err := q.bind(values)
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := q.stmt.Get(ctx, params...)
	if err != nil || !ok {
		return nil, false, err
	}
	row, err = q.mapper(q.fields, raw)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Values executes the statement and returns the raw tuples without mapping.
func (q *Queryable) Values(ctx context.Context, values map[string]any) ([][]any, error) {
	if q.fields == nil {
		return nil, ErrNoData
	}
	params, err := q.bind(values)
	if err != nil {
		return nil, err
	}
	return q.stmt.Values(ctx, params...)
}
