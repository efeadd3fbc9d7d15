package database

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations_SortedUpOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_billing.up.sql": {Data: []byte("SELECT 2")},
		"000001_init.up.sql":    {Data: []byte("SELECT 1")},
		"000001_init.down.sql":  {Data: []byte("SELECT 0")},
		"embed.go":              {Data: []byte("package migrations")},
	}

	names, err := pendingMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init.up.sql", "000002_billing.up.sql"}, names)
}

func TestRunMigrations_AppliesOnlyNew(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{
		"000001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INT)")},
		"000002_billing.up.sql": {Data: []byte("CREATE TABLE b (id INT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("000001_init.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("000002_billing.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("000002_billing.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = RunMigrations(context.Background(), mock, fsys, logger)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
