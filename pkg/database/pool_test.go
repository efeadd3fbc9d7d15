package database

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		minExpected := time.Duration(float64(base) * (1 - retryJitterFraction))
		maxExpected := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, minExpected)
			assert.LessOrEqual(t, d, maxExpected)
		}
	}
}

func TestPoolConfig_RuntimeParams(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.LockTimeout = 1500 * time.Millisecond
	cfg.ApplicationName = "fulfillment-engine"

	pc, err := poolConfig(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "1500", pc.ConnConfig.RuntimeParams["lock_timeout"])
	assert.Equal(t, "fulfillment-engine", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, cfg.MaxConns, pc.MaxConns)
}

func TestPoolConfig_NoLockTimeout(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.LockTimeout = 0

	pc, err := poolConfig(&cfg)
	require.NoError(t, err)

	_, ok := pc.ConnConfig.RuntimeParams["lock_timeout"]
	assert.False(t, ok)
}

func TestDSN(t *testing.T) {
	cfg := PostgresConfig{User: "u", Password: "p", Host: "db", Port: 5433, DBName: "f", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/f?sslmode=require", cfg.DSN())
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:5432: connection refused")))
	assert.True(t, isConnectionError(errors.New("connection reset by peer")))
	assert.True(t, isConnectionError(errors.New("unexpected EOF")))
	assert.False(t, isConnectionError(errors.New("syntax error at or near")))
	assert.False(t, isConnectionError(errors.New("duplicate key value violates unique constraint")))
}
