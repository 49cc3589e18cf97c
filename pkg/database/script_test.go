package database

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vivarium/pkg/logging"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment
CREATE TABLE a (id INT);
/* block
   comment; with semicolon */
INSERT INTO a VALUES (1);

   ;
INSERT INTO a VALUES (2)  -- trailing comments are kept
`
	stmts := SplitStatements(script)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Equal(t, "INSERT INTO a VALUES (1)", stmts[1])
	assert.Contains(t, stmts[2], "INSERT INTO a VALUES (2)")
}

func TestApplyScript_SkipsExistingObjects(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE devices (id INT)")).
		WillReturnError(&pq.Error{Code: "42P07", Message: `relation "devices" already exists`})
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO devices VALUES (1)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := ApplyScript(ctx, db.NewSession(),
		"CREATE TABLE devices (id INT);\nINSERT INTO devices VALUES (1);", logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 1, result.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyScript_StopsOnOtherErrors(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO devices").
		WillReturnError(&pq.Error{Code: "23502", Message: "null value"})

	result, err := ApplyScript(ctx, db.NewSession(),
		"INSERT INTO devices VALUES (NULL); INSERT INTO devices VALUES (2);", logging.NewNopLogger())
	require.Error(t, err)
	assert.Equal(t, 0, result.Executed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyScript_RejectsCopyFromStdin(t *testing.T) {
	db, _ := newMockDB(t)

	_, err := ApplyScript(context.Background(), db.NewSession(),
		"COPY public.devices (device_id) FROM stdin;", logging.NewNopLogger())
	assert.ErrorContains(t, err, "COPY")
}

func TestApplyScriptFile_EmptyFile(t *testing.T) {
	db, _ := newMockDB(t)
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	_, err := ApplyScriptFile(context.Background(), db.NewSession(), path, logging.NewNopLogger())
	assert.ErrorContains(t, err, "empty")
}
