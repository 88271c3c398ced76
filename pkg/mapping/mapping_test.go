package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/qmap/pkg/errors"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(
		Command{Name: "CMD_SUBSTRING", Translations: []Translation{
			{Database: "PostgreSQL", Function: "substring"},
			{Database: "sqlite", Function: "substr"},
			{Database: "MySQL", Function: "substr"},
		}},
		Command{Name: "CMD_LENGTH", Translations: []Translation{
			{Database: "PostgreSQL", Function: "char_length"},
			{Database: "SQLite", Function: "length"},
		}},
	)
	require.NoError(t, err)
	return table
}

func TestNewTable_KeepsOrder(t *testing.T) {
	table := sampleTable(t)

	require.Equal(t, 2, table.Len())
	cmds := table.Commands()
	assert.Equal(t, "CMD_SUBSTRING", cmds[0].Name)
	assert.Equal(t, "CMD_LENGTH", cmds[1].Name)
}

func TestNewTable_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		commands []Command
	}{
		{"empty name", []Command{{Translations: []Translation{{Database: "a", Function: "f"}}}}},
		{"no translations", []Command{{Name: "CMD_X"}}},
		{"empty function", []Command{{Name: "CMD_X", Translations: []Translation{{Database: "a"}}}}},
		{"empty database", []Command{{Name: "CMD_X", Translations: []Translation{{Function: "f"}}}}},
		{"duplicate database", []Command{{Name: "CMD_X", Translations: []Translation{
			{Database: "sqlite", Function: "f"},
			{Database: "SQLITE", Function: "g"},
		}}}},
		{"duplicate command", []Command{
			{Name: "CMD_X", Translations: []Translation{{Database: "a", Function: "f"}}},
			{Name: "CMD_X", Translations: []Translation{{Database: "b", Function: "g"}}},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(tc.commands...)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
		})
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	trs := []Translation{{Database: "sqlite", Function: "substr"}}
	table, err := NewTable(Command{Name: "CMD_SUBSTRING", Translations: trs})
	require.NoError(t, err)

	trs[0].Function = "changed"
	fn, ok := table.Lookup("CMD_SUBSTRING", "sqlite")
	require.True(t, ok)
	assert.Equal(t, "substr", fn)

	cmds := table.Commands()
	cmds[0].Translations[0].Function = "changed again"
	fn, _ = table.Lookup("CMD_SUBSTRING", "sqlite")
	assert.Equal(t, "substr", fn)
}

func TestTable_LookupIsCaseInsensitiveOnDatabase(t *testing.T) {
	table := sampleTable(t)

	fn, ok := table.Lookup("CMD_LENGTH", "sqlite")
	require.True(t, ok)
	assert.Equal(t, "length", fn)

	fn, ok = table.Lookup("CMD_SUBSTRING", "postgresql")
	require.True(t, ok)
	assert.Equal(t, "substring", fn)

	_, ok = table.Lookup("CMD_LENGTH", "MySQL")
	assert.False(t, ok)

	_, ok = table.Lookup("cmd_length", "sqlite")
	assert.False(t, ok, "command names are case-sensitive")
}

func TestCommand_FunctionSkipsEmptyPairs(t *testing.T) {
	c := Command{Name: "CMD_X", Translations: []Translation{
		{Database: "sqlite", Function: ""},
		{Database: "", Function: "bogus"},
		{Database: "SQLite", Function: "real"},
	}}

	fn, ok := c.Function("sqlite")
	require.True(t, ok)
	assert.Equal(t, "real", fn)

	_, ok = c.Function("")
	assert.False(t, ok)
}

func TestTable_Databases(t *testing.T) {
	table := sampleTable(t)
	assert.Equal(t, []string{"PostgreSQL", "sqlite", "MySQL"}, table.Databases())
}

func TestTable_ZeroAndNil(t *testing.T) {
	var zero Table
	assert.Equal(t, 0, zero.Len())
	_, ok := zero.Lookup("CMD_X", "sqlite")
	assert.False(t, ok)

	var nilTable *Table
	assert.Equal(t, 0, nilTable.Len())
	assert.Nil(t, nilTable.Commands())
	assert.Nil(t, nilTable.Databases())
	nilTable.Range(func(Command) bool {
		t.Fatal("Range on nil table must not call fn")
		return true
	})
}

func TestTable_RangeStops(t *testing.T) {
	table := sampleTable(t)
	var seen []string
	table.Range(func(c Command) bool {
		seen = append(seen, c.Name)
		return false
	})
	assert.Equal(t, []string{"CMD_SUBSTRING"}, seen)
}
