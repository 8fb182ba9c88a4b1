package tursoorm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDriver records prepared SQL and executions and serves canned rows.
type fakeDriver struct {
	prepared   []string
	prepareErr error
	stmts      []*fakeStmt
	rows       [][]any
	execErr    error
	began      int
	committed  int
	rolledBack int
}

type fakeStmt struct {
	driver *fakeDriver
	sql    string
	calls  []fakeCall
	closed bool
}

type fakeCall struct {
	mode string
	args []any
}

func (d *fakeDriver) Prepare(_ context.Context, query string) (Stmt, error) {
	if d.prepareErr != nil {
		return nil, d.prepareErr
	}
	d.prepared = append(d.prepared, query)
	s := &fakeStmt{driver: d, sql: query}
	d.stmts = append(d.stmts, s)
	return s, nil
}

func (s *fakeStmt) record(mode string, args []any) error {
	s.calls = append(s.calls, fakeCall{mode: mode, args: args})
	return s.driver.execErr
}

func (s *fakeStmt) Run(_ context.Context, args ...any) (Result, error) {
	if err := s.record("run", args); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: 1}, nil
}

func (s *fakeStmt) All(_ context.Context, args ...any) ([][]any, error) {
	if err := s.record("all", args); err != nil {
		return nil, err
	}
	return s.driver.rows, nil
}

func (s *fakeStmt) Get(_ context.Context, args ...any) ([]any, bool, error) {
	if err := s.record("get", args); err != nil {
		return nil, false, err
	}
	if len(s.driver.rows) == 0 {
		return nil, false, nil
	}
	return s.driver.rows[0], true, nil
}

func (s *fakeStmt) Values(_ context.Context, args ...any) ([][]any, error) {
	if err := s.record("values", args); err != nil {
		return nil, err
	}
	return s.driver.rows, nil
}

func (s *fakeStmt) Close() error {
	s.closed = true
	return nil
}

// fakeTxDriver adds transaction support to fakeDriver.
type fakeTxDriver struct {
	*fakeDriver
	beginErr error
}

type fakeTx struct {
	*fakeDriver
}

func (d *fakeTxDriver) Begin(context.Context) (TxBoundDriver, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.began++
	return &fakeTx{d.fakeDriver}, nil
}

func (tx *fakeTx) Commit() error {
	tx.committed++
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.rolledBack++
	return nil
}

// recordingLogger keeps every logged query.
type recordingLogger struct {
	queries []string
	params  [][]any
}

func (l *recordingLogger) LogQuery(query string, params []any) {
	l.queries = append(l.queries, query)
	l.params = append(l.params, params)
}

func TestPrepareQueryRun(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{}
	log := &recordingLogger{}
	s := NewSession(d, WithLogger(log))

	stmt, err := s.PrepareQuery(ctx, Query{SQL: "INSERT INTO t VALUES (?)", Params: []any{1}})
	require.NoError(t, err)
	require.Equal(t, []string{"INSERT INTO t VALUES (?)"}, d.prepared)
	require.Empty(t, d.stmts[0].calls, "prepare must not execute")

	require.NoError(t, stmt.Run(ctx, nil))
	require.Equal(t, []fakeCall{{mode: "run", args: []any{1}}}, d.stmts[0].calls)
	require.Equal(t, []string{"INSERT INTO t VALUES (?)"}, log.queries)
	require.Equal(t, [][]any{{1}}, log.params)
}

func TestQueryableModes(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{int64(1)}, {int64(2)}}}
	s := NewSession(d)

	stmt, err := s.PrepareSelect(ctx, Query{SQL: "SELECT id FROM t"}, Fields{{Column: "id"}})
	require.NoError(t, err)

	rows, err := stmt.All(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []Row{{"id": int64(1)}, {"id": int64(2)}}, rows)

	values, err := stmt.Values(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1)}, {int64(2)}}, values)

	row, ok, err := stmt.Get(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Row{"id": int64(1)}, row)

	require.NoError(t, stmt.Run(ctx, nil))

	modes := []string{}
	for _, c := range d.stmts[0].calls {
		modes = append(modes, c.mode)
	}
	require.Equal(t, []string{"all", "values", "get", "run"}, modes)
}

func TestGetNoRows(t *testing.T) {
	ctx := context.Background()
	s := NewSession(&fakeDriver{})
	stmt, err := s.PrepareSelect(ctx, Query{SQL: "SELECT id FROM t"}, Fields{{Column: "id"}})
	require.NoError(t, err)

	row, ok, err := stmt.Get(ctx, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, row)
}

func TestRowModesWithoutFields(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{int64(1)}}}
	s := NewSession(d)

	stmt, err := s.Prepare(ctx, Query{SQL: "SELECT id FROM t"}, nil)
	require.NoError(t, err)

	_, err = stmt.All(ctx, nil)
	require.ErrorIs(t, err, ErrNoData)
	_, _, err = stmt.Get(ctx, nil)
	require.ErrorIs(t, err, ErrNoData)
	require.Contains(t, err.Error(), "Run()")
	_, err = stmt.Values(ctx, nil)
	require.ErrorIs(t, err, ErrNoData)
	require.Empty(t, d.stmts[0].calls, "misuse must fail before reaching the driver")

	require.NoError(t, stmt.Run(ctx, nil))
	require.Len(t, d.stmts[0].calls, 1)
}

func TestEmptyFieldsIsNotAbsent(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{}}}
	stmt, err := NewSession(d).PrepareSelect(ctx, Query{SQL: "SELECT"}, Fields{})
	require.NoError(t, err)

	rows, err := stmt.All(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []Row{{}}, rows)
}

func TestPlaceholdersDoNotLeakBetweenCalls(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{int64(7)}}}
	log := &recordingLogger{}
	s := NewSession(d, WithLogger(log))

	template := []any{NewPlaceholder("id"), "fixed", NewPlaceholder("name")}
	stmt, err := s.PrepareSelect(ctx, Query{SQL: "SELECT id FROM t WHERE id = ? AND a = ? AND b = ?", Params: template}, Fields{{Column: "id"}})
	require.NoError(t, err)

	_, err = stmt.All(ctx, map[string]any{"id": 1, "name": "one"})
	require.NoError(t, err)
	_, err = stmt.All(ctx, map[string]any{"id": 2, "name": "two"})
	require.NoError(t, err)

	calls := d.stmts[0].calls
	require.Equal(t, []any{1, "fixed", "one"}, calls[0].args)
	require.Equal(t, []any{2, "fixed", "two"}, calls[1].args)
	require.Equal(t, [][]any{{1, "fixed", "one"}, {2, "fixed", "two"}}, log.params)
	require.Equal(t, []any{NewPlaceholder("id"), "fixed", NewPlaceholder("name")}, template)
}

func TestMissingPlaceholder(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{}
	log := &recordingLogger{}
	stmt, err := NewSession(d, WithLogger(log)).PrepareQuery(ctx, Query{SQL: "DELETE FROM t WHERE id = ?", Params: []any{NewPlaceholder("id")}})
	require.NoError(t, err)

	err = stmt.Run(ctx, map[string]any{"other": 1})
	require.ErrorIs(t, err, ErrMissingPlaceholder)
	require.Contains(t, err.Error(), `"id"`)
	require.Empty(t, d.stmts[0].calls)
	require.Empty(t, log.queries)
}

func TestDriverErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()
	prepareErr := errors.New("near \"SELEC\": syntax error")
	_, err := NewSession(&fakeDriver{prepareErr: prepareErr}).PrepareQuery(ctx, Query{SQL: "SELEC 1"})
	require.Same(t, prepareErr, err)

	execErr := errors.New("UNIQUE constraint failed: t.id")
	d := &fakeDriver{execErr: execErr}
	s := NewSession(d)

	exec, err := s.PrepareQuery(ctx, Query{SQL: "INSERT INTO t VALUES (1)"})
	require.NoError(t, err)
	require.Same(t, execErr, exec.Run(ctx, nil))

	query, err := s.PrepareSelect(ctx, Query{SQL: "SELECT id FROM t"}, Fields{{Column: "id"}})
	require.NoError(t, err)
	_, err = query.All(ctx, nil)
	require.Same(t, execErr, err)
	_, _, err = query.Get(ctx, nil)
	require.Same(t, execErr, err)
	_, err = query.Values(ctx, nil)
	require.Same(t, execErr, err)
}

func TestFieldsAreCopiedAtPrepare(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{int64(1)}}}
	fields := Fields{{Column: "id"}}
	stmt, err := NewSession(d).PrepareSelect(ctx, Query{SQL: "SELECT id FROM t"}, fields)
	require.NoError(t, err)

	fields[0] = Field{Column: "changed"}
	rows, err := stmt.All(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []Row{{"id": int64(1)}}, rows)
}

func TestCustomRowMapper(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{rows: [][]any{{int64(1), "a"}}}
	mapper := func(fields Fields, values []any) (Row, error) {
		row := Row{}
		for i, f := range fields {
			row[strings.ToUpper(f.Column)] = values[i]
		}
		return row, nil
	}
	stmt, err := NewSession(d, WithRowMapper(mapper)).PrepareSelect(ctx, Query{SQL: "SELECT id, name FROM t"}, Fields{{Column: "id"}, {Column: "name"}})
	require.NoError(t, err)

	rows, err := stmt.All(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []Row{{"ID": int64(1), "NAME": "a"}}, rows)
}

func TestCloseFinalizes(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{}
	stmt, err := NewSession(d).PrepareQuery(ctx, Query{SQL: "SELECT 1"})
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", stmt.SQL())
	require.NoError(t, stmt.Close())
	require.True(t, d.stmts[0].closed)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		d := &fakeTxDriver{fakeDriver: &fakeDriver{}}
		err := NewSession(d).Transaction(ctx, func(tx *Session) error {
			stmt, err := tx.PrepareQuery(ctx, Query{SQL: "INSERT INTO t VALUES (1)"})
			if err != nil {
				return err
			}
			return stmt.Run(ctx, nil)
		})
		require.NoError(t, err)
		require.Equal(t, 1, d.began)
		require.Equal(t, 1, d.committed)
		require.Equal(t, 0, d.rolledBack)
	})

	t.Run("rollback", func(t *testing.T) {
		d := &fakeTxDriver{fakeDriver: &fakeDriver{}}
		boom := errors.New("boom")
		err := NewSession(d).Transaction(ctx, func(tx *Session) error { return boom })
		require.ErrorIs(t, err, boom)
		require.Equal(t, 0, d.committed)
		require.Equal(t, 1, d.rolledBack)
	})

	t.Run("panic rolls back", func(t *testing.T) {
		d := &fakeTxDriver{fakeDriver: &fakeDriver{}}
		require.PanicsWithValue(t, "handler bug", func() {
			_ = NewSession(d).Transaction(ctx, func(tx *Session) error { panic("handler bug") })
		})
		require.Equal(t, 1, d.began)
		require.Equal(t, 0, d.committed)
		require.Equal(t, 1, d.rolledBack)
	})

	t.Run("begin error", func(t *testing.T) {
		beginErr := errors.New("database is locked")
		d := &fakeTxDriver{fakeDriver: &fakeDriver{}, beginErr: beginErr}
		called := false
		err := NewSession(d).Transaction(ctx, func(tx *Session) error {
			called = true
			return nil
		})
		require.Same(t, beginErr, err)
		require.False(t, called)
	})

	t.Run("unsupported", func(t *testing.T) {
		err := NewSession(&fakeDriver{}).Transaction(ctx, func(tx *Session) error { return nil })
		require.ErrorIs(t, err, ErrNoTxSupport)
	})
}
