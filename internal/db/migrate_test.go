package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_init.sql", migrations[0].Name)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}

	initSQL := migrations[0].SQL
	for _, want := range []string{
		"appointments_active_slot_uniq",
		"appointments_transaction_ref_uniq",
		"provider_availability",
		"event_logs",
	} {
		assert.True(t, strings.Contains(initSQL, want), "missing %s", want)
	}
}
