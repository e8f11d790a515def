package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type pingRecord struct {
	ID   int
	Name string
}

func TestNewWithSQLiteDriver(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		DSN:          "file::memory:",
		Driver:       "SQLite",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, DriverSQLite, client.Driver())
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.DB().AutoMigrate(&pingRecord{}))

	var got pingRecord
	err = client.DB().First(&got, "name = ?", "missing").Error
	assert.True(t, IsNotFound(err))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = New(context.Background(), config.DBConfig{Driver: DriverSQLite}, nil)
	assert.ErrorContains(t, err, "DSN is required")
}

func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, DriverPostgres, normalizeDriver(""))
	assert.Equal(t, DriverPostgres, normalizeDriver("pgx"))
	assert.Equal(t, DriverSQLite, normalizeDriver(" sqlite "))
}

func TestQueryLoggerReportsFailuresAndSlowStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	q := newQueryLogger(logg, 10*time.Millisecond)
	statement := func() (string, int64) { return "SELECT 1", 1 }

	q.Trace(context.Background(), time.Now(), statement, nil)
	assert.Zero(t, buf.Len(), "fast successful queries stay quiet")

	q.Trace(context.Background(), time.Now(), statement, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "missing rows are not failures")

	q.Trace(context.Background(), time.Now().Add(-time.Second), statement, nil)
	assert.Contains(t, buf.String(), "db.query_slow")
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)

	buf.Reset()
	q.Trace(context.Background(), time.Now(), statement, errors.New("disk full"))
	assert.Contains(t, buf.String(), "db.query_failed")

	buf.Reset()
	q.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), statement, errors.New("disk full"))
	assert.Zero(t, buf.Len())
}
