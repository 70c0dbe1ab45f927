package infra

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/wallet?sslmode=disable": "pgx5://u:p@localhost:5432/wallet?sslmode=disable",
		"postgresql://localhost/wallet":                        "pgx5://localhost/wallet",
		"pgx5://localhost/wallet":                              "pgx5://localhost/wallet",
	}
	for in, want := range cases {
		require.Equal(t, want, migrateURL(in), in)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Zero(t, len(entries)%2, "expected paired up/down migrations")
}
