package migrations

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	in := `-- header
CREATE TABLE a (x Int32) ENGINE = Memory;

-- second
CREATE TABLE b (y String DEFAULT 'it''s') ENGINE = Memory;
`
	stmts, err := splitStatements(in)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.Contains(t, stmts[1], "'it''s'")
}

func TestSplitStatements_TrailingStatementWithoutSemicolon(t *testing.T) {
	stmts, err := splitStatements("SELECT 1;\nSELECT 2\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, stmts)
}

func TestSplitStatements_RejectsSemicolonInLiteral(t *testing.T) {
	_, err := splitStatements(`SELECT 'a;b';`)
	assert.ErrorIs(t, err, errSemicolonInString)
}

func TestLoad_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/010_later.sql":   {Data: []byte("CREATE TABLE c (x int);")},
		"pg/002_second.sql":  {Data: []byte("CREATE TABLE b (x int);")},
		"pg/001_first.sql":   {Data: []byte("CREATE TABLE a (x int);\nCREATE INDEX a_x ON a (x);")},
		"pg/003_empty.sql":   {Data: []byte("-- nothing yet\n")},
		"pg/README.md":       {Data: []byte("ignored")},
		"other/001_skip.sql": {Data: []byte("CREATE TABLE z (x int);")},
	}

	got, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "first", got[0].Name)
	assert.Len(t, got[0].Statements, 2)
	assert.Equal(t, 2, got[1].Version)
	assert.Equal(t, 10, got[2].Version)
}

func TestLoad_RejectsBadNames(t *testing.T) {
	_, err := load(fstest.MapFS{"pg/first.sql": {Data: []byte("SELECT 1;")}}, "pg")
	assert.Error(t, err)

	_, err = load(fstest.MapFS{
		"pg/001_a.sql": {Data: []byte("SELECT 1;")},
		"pg/1_b.sql":   {Data: []byte("SELECT 2;")},
	}, "pg")
	assert.ErrorContains(t, err, "version 1")
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := pending(all, map[int]bool{1: true, 3: true})
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Version)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/covered_calls")
	require.NoError(t, err)
	assert.Equal(t, "covered_calls", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/bad-name")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := Postgres()
	require.NoError(t, err)
	require.Len(t, pg, 3)
	assert.Equal(t, "trade_records", pg[0].Name)

	ch, err := ClickHouse()
	require.NoError(t, err)
	require.Len(t, ch, 2)
	for _, m := range ch {
		assert.Len(t, m.Statements, 1, m.Name)
	}
}
