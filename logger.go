package tursoorm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

// Logger receives every query right before it is executed.
type Logger interface {
	LogQuery(query string, params []any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) LogQuery(string, []any) {}

// DefaultLogger writes "Query: <sql> -- params: <json>" lines.
type DefaultLogger struct {
	out *log.Logger
}

// NewDefaultLogger returns a DefaultLogger writing to w.
func NewDefaultLogger(w io.Writer) *DefaultLogger {
	return &DefaultLogger{out: log.New(w, "", log.LstdFlags)}
}

func (l *DefaultLogger) LogQuery(query string, params []any) {
	if len(params) == 0 {
		l.out.Printf("Query: %s", query)
		return
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte(fmt.Sprint(params))
	}
	l.out.Printf("Query: %s -- params: %s", query, encoded)
}

// GormLogger forwards queries to a gorm logger as trace events, with the
// parameters rendered into the SQL text.
type GormLogger struct {
	Logger gormlogger.Interface
	// Context is passed to the gorm logger; context.Background() when nil.
	Context context.Context
}

// NewGormLogger wraps l. A nil l uses gormlogger.Default at Info level.
func NewGormLogger(l gormlogger.Interface) *GormLogger {
	if l == nil {
		l = gormlogger.Default.LogMode(gormlogger.Info)
	}
	return &GormLogger{Logger: l}
}

func (l *GormLogger) LogQuery(query string, params []any) {
	ctx := l.Context
	if ctx == nil {
		ctx = context.Background()
	}
	l.Logger.Trace(ctx, time.Now(), func() (string, int64) {
		return gormlogger.ExplainSQL(query, nil, `'`, params...), -1
	}, nil)
}
