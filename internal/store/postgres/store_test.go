package postgres

import (
	"testing"

	"cluster-backend/internal/store/types"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	dsn := DSN(types.PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "cluster",
		Password: "secret",
		DBName:   "clusters",
	})
	assert.Equal(t, "host=db user=cluster password=secret dbname=clusters port=5432 sslmode=disable", dsn)
}
