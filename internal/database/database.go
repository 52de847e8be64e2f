// Package database opens the PostgreSQL pool used by the postgres archive.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"vimani/internal/config"
)

const (
	pingTimeout    = 5 * time.Second
	connectTimeout = 5 // seconds, passed to libpq as connect_timeout
	appName        = "vimani"
)

var (
	sqlOpen = sql.Open

	// otelsql registers a new driver name per call; the server may be rebuilt
	// many times under --reload so the wrapped driver is registered once.
	driverOnce sync.Once
	driverName string
	driverErr  error
)

func tracedDriver() (string, error) {
	driverOnce.Do(func() {
		driverName, driverErr = otelsql.Register("pgx",
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSQLCommenter(true),
		)
	})
	return driverName, driverErr
}

// BuildPostgresDSN renders c as a postgres:// URL tagged with the
// application name.
func BuildPostgresDSN(c config.DatabaseConfig) (string, error) {
	if c.Host == "" || c.Port == "" || c.User == "" || c.Name == "" {
		return "", fmt.Errorf("invalid database config: host, port, user, and name are required")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + c.Port,
		Path:   c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	q := u.Query()
	q.Set("application_name", appName)
	q.Set("connect_timeout", strconv.Itoa(connectTimeout))
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Open connects to PostgreSQL through the traced pgx driver, applies the pool
// limits from c and pings within pingTimeout.
func Open(ctx context.Context, c config.DatabaseConfig, log zerolog.Logger) (*sql.DB, error) {
	dsn, err := BuildPostgresDSN(c)
	if err != nil {
		return nil, err
	}

	name, err := tracedDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql: %w", err)
	}

	db, err := sqlOpen(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeSec) * time.Second)
	}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Info().
		Str("component", "database").
		Str("event", "db_connected").
		Str("db_host", c.Host).
		Str("db_name", c.Name).
		Int("max_open_conns", c.MaxOpenConns).
		Dur("ping", time.Since(start)).
		Msg("connected to postgres")
	return db, nil
}
