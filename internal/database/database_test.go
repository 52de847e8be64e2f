package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/config"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name    string
		config  config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{
			name:   "password and sslmode",
			config: config.DatabaseConfig{Host: "db", Port: "5432", User: "vimani", Password: "s3cret", Name: "runs", SSLMode: "disable"},
			want:   "postgres://vimani:s3cret@db:5432/runs?application_name=vimani&connect_timeout=5&sslmode=disable",
		},
		{
			name:   "no password",
			config: config.DatabaseConfig{Host: "db", Port: "5432", User: "vimani", Name: "runs", SSLMode: "require"},
			want:   "postgres://vimani@db:5432/runs?application_name=vimani&connect_timeout=5&sslmode=require",
		},
		{
			name:   "password needing escape",
			config: config.DatabaseConfig{Host: "db", Port: "5432", User: "vimani", Password: "p@ss/word", Name: "runs"},
			want:   "postgres://vimani:p%40ss%2Fword@db:5432/runs?application_name=vimani&connect_timeout=5",
		},
		{name: "missing host", config: config.DatabaseConfig{Port: "5432", User: "u", Name: "n"}, wantErr: true},
		{name: "missing port", config: config.DatabaseConfig{Host: "db", User: "u", Name: "n"}, wantErr: true},
		{name: "missing user", config: config.DatabaseConfig{Host: "db", Port: "5432", Name: "n"}, wantErr: true},
		{name: "missing name", config: config.DatabaseConfig{Host: "db", Port: "5432", User: "u"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPostgresDSN(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// stubOpen points sqlOpen at db for the duration of the test.
func stubOpen(t *testing.T, db *sql.DB, err error) {
	t.Helper()
	orig := sqlOpen
	sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
		return db, err
	}
	t.Cleanup(func() { sqlOpen = orig })
}

func TestOpen(t *testing.T) {
	conf := config.DatabaseConfig{
		Host:               "db",
		Port:               "5432",
		User:               "vimani",
		Password:           "pass",
		Name:               "runs",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetimeSec: 300,
	}

	t.Run("success logs the connection", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		stubOpen(t, db, nil)
		mock.ExpectPing()

		var buf bytes.Buffer
		got, err := Open(context.Background(), conf, zerolog.New(&buf))
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Equal(t, 10, got.Stats().MaxOpenConnections)
		assert.Contains(t, buf.String(), `"event":"db_connected"`)
		assert.Contains(t, buf.String(), `"db_name":"runs"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver registered once", func(t *testing.T) {
		first, err := tracedDriver()
		require.NoError(t, err)
		second, err := tracedDriver()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("sqlOpen error", func(t *testing.T) {
		stubOpen(t, nil, errors.New("open error"))

		got, err := Open(context.Background(), conf, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sql open: open error")
		assert.Nil(t, got)
	})

	t.Run("ping error", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		stubOpen(t, db, nil)
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))

		got, err := Open(context.Background(), conf, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db ping: ping failed")
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled context", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		stubOpen(t, db, nil)
		mock.ExpectPing()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		got, err := Open(ctx, conf, zerolog.Nop())
		assert.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("invalid config", func(t *testing.T) {
		got, err := Open(context.Background(), config.DatabaseConfig{}, zerolog.Nop())
		assert.Error(t, err)
		assert.Nil(t, got)
	})
}
