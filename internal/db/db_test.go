package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSQLite(t *testing.T) {
	assert.True(t, IsSQLite("file:chat-relay.db?cache=shared"))
	assert.True(t, IsSQLite("file::memory:?cache=shared"))
	assert.True(t, IsSQLite("./data/ledger.db"))
	assert.True(t, IsSQLite(":memory:"))
	assert.False(t, IsSQLite("relay:secret@tcp(127.0.0.1:3306)/relay?parseTime=true"))
}

func TestDialector(t *testing.T) {
	assert.Equal(t, "sqlite", Dialector("file::memory:").Name())
	assert.Equal(t, "mysql", Dialector("u:p@tcp(db:3306)/x").Name())
}

func TestConnect_SQLiteMemory(t *testing.T) {
	gdb, err := Connect("file:db_test?mode=memory&cache=shared")
	require.NoError(t, err)

	var one int
	require.NoError(t, gdb.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
