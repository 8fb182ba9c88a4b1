package tursoorm

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math"
	"time"
)

// Driver is the native capability a Session compiles statements with.
type Driver interface {
	Prepare(ctx context.Context, query string) (Stmt, error)
}

// Stmt is one compiled native statement. Args are positional.
type Stmt interface {
	Run(ctx context.Context, args ...any) (Result, error)
	All(ctx context.Context, args ...any) ([][]any, error)
	// Get returns the first row only; ok is false when there is none.
	Get(ctx context.Context, args ...any) (row []any, ok bool, err error)
	Values(ctx context.Context, args ...any) ([][]any, error)
	Close() error
}

// Result reports the effect of Stmt.Run.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// TxDriver is a Driver that can open transactions.
type TxDriver interface {
	Driver
	Begin(ctx context.Context) (TxBoundDriver, error)
}

// TxBoundDriver is a Driver bound to an open transaction.
type TxBoundDriver interface {
	Driver
	Commit() error
	Rollback() error
}

// bindValue normalizes a Go value into one of the SQLite storage classes:
// nil, int64, float64, string or []byte.
func bindValue(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		v = dv
	}
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		// cap at MaxInt64 to avoid overflow
		if x > uint64(math.MaxInt64) {
			return int64(math.MaxInt64), nil
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return x, nil
	case string:
		return x, nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprint(v), nil
	}
}
