package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureKeyspaceRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "1support", "support; DROP", strings.Repeat("k", 49)} {
		assert.Error(t, EnsureKeyspace(nil, name, 1), "keyspace %q", name)
	}
}

func TestDropTableOnlyKnownTables(t *testing.T) {
	err := DropTable(nil, "system_auth")
	assert.ErrorContains(t, err, "unknown table")
}

func TestSchemaTables(t *testing.T) {
	want := []string{"support_messages", "users", "users_by_id"}
	if !assert.Len(t, Tables, len(want)) {
		return
	}
	for i, name := range want {
		assert.Equal(t, name, Tables[i].Name)
		assert.Contains(t, Tables[i].DDL, "CREATE TABLE IF NOT EXISTS "+name+" ")
	}
}
