package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsApply(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/school")
	require.NoError(t, err)

	Options{AppName: "student-service", MaxConns: 4, MinConns: 9, StatementTimeout: 2 * time.Second}.apply(cfg)

	assert.EqualValues(t, 4, cfg.MaxConns)
	assert.EqualValues(t, 1, cfg.MinConns)
	assert.Equal(t, "student-service", cfg.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "2000", cfg.ConnConfig.RuntimeParams["statement_timeout"])
}
