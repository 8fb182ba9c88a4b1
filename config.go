package tursoorm

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	// DriverNative binds through zombiezen.com/go/sqlite statement handles.
	DriverNative = "native"
	// DriverSQL binds through database/sql and github.com/mattn/go-sqlite3.
	DriverSQL = "sql"

	// DefaultBusyTimeout is applied when the DSN does not set _busy_timeout.
	DefaultBusyTimeout = 5000
)

// Config describes how Open connects.
type Config struct {
	// Path to the database file or ":memory:"
	Path string
	// Driver is DriverNative or DriverSQL.
	Driver string
	// BusyTimeout in milliseconds; 0 disables the busy handler.
	BusyTimeout int
	// LogQueries installs a DefaultLogger writing to stderr.
	LogQueries bool
	// Params holds the remaining query keys (mode, cache, ...), passed
	// through to SQLite by URI.
	Params url.Values
}

// ParseDSN supports format: <path>[?driver=native|sql&_busy_timeout=<int>&_log=0|1&<sqlite params>]
func ParseDSN(dsn string) (Config, error) {
	config := Config{Path: dsn, Driver: DriverNative, BusyTimeout: DefaultBusyTimeout}
	qMark := strings.IndexByte(dsn, '?')
	if qMark < 0 {
		return config, nil
	}
	config.Path = dsn[:qMark]
	vals, err := url.ParseQuery(dsn[qMark+1:])
	if err != nil {
		return Config{}, err
	}
	if v := vals.Get("driver"); v != "" {
		switch v {
		case DriverNative, DriverSQL:
			config.Driver = v
		default:
			return Config{}, fmt.Errorf("tursoorm: unknown driver %q", v)
		}
	}
	if v := vals.Get("_busy_timeout"); v != "" {
		var timeout int
		if _, err := fmt.Sscanf(v, "%d", &timeout); err != nil {
			return Config{}, fmt.Errorf("tursoorm: invalid _busy_timeout %q: %w", v, err)
		}
		if timeout < 0 {
			timeout = 0
		}
		config.BusyTimeout = timeout
	}
	if v := vals.Get("_log"); v != "" {
		config.LogQueries = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	for _, k := range []string{"driver", "_busy_timeout", "_log"} {
		vals.Del(k)
	}
	if len(vals) > 0 {
		config.Params = vals
	}
	return config, nil
}

// URI returns Path with Params re-attached plus extra, which overrides Params.
// A plain path becomes a file: URI when Params is set, since SQLite ignores
// query parameters on plain filenames.
func (c Config) URI(extra url.Values) string {
	path := c.Path
	if len(c.Params) > 0 && !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	vals := url.Values{}
	for k, v := range c.Params {
		vals[k] = v
	}
	for k, v := range extra {
		vals[k] = v
	}
	if len(vals) == 0 {
		return path
	}
	return path + "?" + vals.Encode()
}

// DB is a Session together with the connection it owns.
type DB struct {
	*Session
	close func() error
}

// Close releases the connection. Statements prepared from the session must be
// closed first.
func (db *DB) Close() error {
	return db.close()
}

// Open connects according to dsn (see ParseDSN) and returns a Session that
// owns the connection.
func Open(dsn string, opts ...Option) (*DB, error) {
	config, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if config.Path == "" {
		config.Path = ":memory:"
	}
	if config.LogQueries {
		opts = append([]Option{WithLogger(NewDefaultLogger(os.Stderr))}, opts...)
	}
	switch config.Driver {
	case DriverSQL:
		// go-sqlite3 applies _busy_timeout to every pooled connection
		sqlDB := OpenSQLite(config.URI(url.Values{"_busy_timeout": {strconv.Itoa(config.BusyTimeout)}}))
		return &DB{Session: NewSession(NewSQLDriver(sqlDB), opts...), close: sqlDB.Close}, nil
	default:
		conn, err := sqlite.OpenConn(config.URI(nil), sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenURI)
		if err != nil {
			return nil, err
		}
		pragma := fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeout)
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &DB{Session: NewSession(NewNativeDriver(conn), opts...), close: conn.Close}, nil
	}
}
