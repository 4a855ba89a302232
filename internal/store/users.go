package store

import (
	"database/sql"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// Users is the minimal user-provisioning surface spec.md treats as an
// external collaborator; implemented here so the HTTP API in spec.md §6
// can run end to end. Grounded on original_source/app/crud/v1/user.py.
type Users struct{}

// NewUsers constructs a Users store.
func NewUsers() *Users { return &Users{} }

// Create inserts a new user with a freshly generated id and api key, and
// seeds the user's zero-initialised RUB balance row in the same
// transaction, so every registered user holds a RUB balance from the start.
func (s *Users) Create(tx *sql.Tx, name string, role models.Role) (*models.User, error) {
	u := &models.User{
		ID:     models.NewID(),
		Name:   name,
		Role:   role,
		APIKey: models.NewAPIKey(),
	}
	if _, err := tx.Exec(
		`INSERT INTO user (id, name, role, api_key, is_deleted) VALUES (?, ?, ?, ?, FALSE)`,
		u.ID, u.Name, u.Role, u.APIKey,
	); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to create user")
	}
	if _, err := tx.Exec(`INSERT INTO balance (user_id, ticker, total, locked) VALUES (?, ?, 0, 0)`, u.ID, models.RUB); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to seed RUB balance")
	}
	return u, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &u.APIKey, &u.Deleted, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const userColumns = "id, name, role, api_key, is_deleted, created_at"

// GetByAPIKey resolves the bearer credential used by internal/auth.
func (s *Users) GetByAPIKey(q querier, apiKey string) (*models.User, error) {
	row := q.QueryRow(`SELECT `+userColumns+` FROM user WHERE api_key = ?`, apiKey)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindUnauthenticated, "unknown api key")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan user")
	}
	return u, nil
}

// Get fetches a user by id.
func (s *Users) Get(q querier, id string) (*models.User, error) {
	row := q.QueryRow(`SELECT `+userColumns+` FROM user WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindUnknownUser, "user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan user")
	}
	return u, nil
}

// SoftDelete marks a user withdrawn; their open orders are cancelled
// separately by the engine's cascade (spec.md §4.5).
func (s *Users) SoftDelete(tx *sql.Tx, id string) (*models.User, error) {
	u, err := s.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE user SET is_deleted = TRUE WHERE id = ?`, id); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to soft-delete user")
	}
	u.Deleted = true
	return u, nil
}
