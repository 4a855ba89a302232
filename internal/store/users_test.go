package store

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"spotx/internal/apperr"
	"spotx/internal/db"
	"spotx/internal/models"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("SPOTX_DB_DSN")
	if dsn == "" {
		t.Skip("SPOTX_DB_DSN environment variable not set, skipping integration test")
	}
	database, err := db.Connect(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	return database
}

func TestUsers_CreateSeedsZeroRUBBalance(t *testing.T) {
	database := testDB(t)
	users := NewUsers()

	tx, err := database.Begin()
	require.NoError(t, err)
	u, err := users.Create(tx, "alice", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM balance WHERE user_id = ?", u.ID)
		database.Exec("DELETE FROM user WHERE id = ?", u.ID)
	})

	require.NotEmpty(t, u.ID)
	require.NotEmpty(t, u.APIKey)
	require.Equal(t, models.RoleUser, u.Role)
	require.False(t, u.Deleted)

	var total, locked string
	row := database.QueryRow(`SELECT total, locked FROM balance WHERE user_id = ? AND ticker = ?`, u.ID, models.RUB)
	require.NoError(t, row.Scan(&total, &locked))
	require.Equal(t, "0", total)
	require.Equal(t, "0", locked)
}

func TestUsers_GetByAPIKey(t *testing.T) {
	database := testDB(t)
	users := NewUsers()

	tx, err := database.Begin()
	require.NoError(t, err)
	u, err := users.Create(tx, "bob", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM balance WHERE user_id = ?", u.ID)
		database.Exec("DELETE FROM user WHERE id = ?", u.ID)
	})

	found, err := users.GetByAPIKey(database, u.APIKey)
	require.NoError(t, err)
	require.Equal(t, u.ID, found.ID)

	_, err = users.GetByAPIKey(database, "not-a-real-key")
	require.Error(t, err)
	k, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindUnauthenticated, k)
}

func TestUsers_SoftDelete(t *testing.T) {
	database := testDB(t)
	users := NewUsers()

	tx, err := database.Begin()
	require.NoError(t, err)
	u, err := users.Create(tx, "carol", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM balance WHERE user_id = ?", u.ID)
		database.Exec("DELETE FROM user WHERE id = ?", u.ID)
	})

	tx, err = database.Begin()
	require.NoError(t, err)
	deleted, err := users.SoftDelete(tx, u.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.True(t, deleted.Deleted)

	refreshed, err := users.Get(database, u.ID)
	require.NoError(t, err)
	require.True(t, refreshed.Deleted)
}

func TestUsers_Get_UnknownUser(t *testing.T) {
	database := testDB(t)
	users := NewUsers()

	_, err := users.Get(database, "does-not-exist")
	require.Error(t, err)
	k, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindUnknownUser, k)
}
