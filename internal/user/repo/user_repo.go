package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/user/entity"
)

// UserRepo provides data access for the users table using sqlx. It works on
// either the store's *sqlx.DB or an open *sqlx.Tx.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  nfc_id TEXT PRIMARY KEY NOT NULL,
  given_name TEXT NOT NULL DEFAULT '',
  surname TEXT NOT NULL DEFAULT '',
  room TEXT NOT NULL DEFAULT '',
  admin INTEGER NOT NULL DEFAULT 0,
  date_registered INTEGER NOT NULL,
  last_access INTEGER NOT NULL
)`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Count returns the number of registered users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return n, nil
}

// Create inserts a new user row. A duplicate nfc_id surfaces as the driver's
// constraint error.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (nfc_id, given_name, surname, room, admin, date_registered, last_access)
		  VALUES (:nfc_id, :given_name, :surname, :room, :admin, :date_registered, :last_access)`
	_, err := sqlx.NamedExecContext(ctx, r.db, q, u)
	return err
}

// GetByNFCID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByNFCID(ctx context.Context, nfcID string) (*entity.User, error) {
	const q = `SELECT nfc_id, given_name, surname, room, admin, date_registered, last_access
	  FROM users WHERE nfc_id=?`
	var row entity.User
	if err := sqlx.GetContext(ctx, r.db, &row, q, nfcID); err != nil {
		return nil, err
	}
	return &row, nil
}

// TouchLastAccess stamps last_access for one user.
func (r *UserRepo) TouchLastAccess(ctx context.Context, nfcID string, ts int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_access=? WHERE nfc_id=?`, ts, nfcID)
	return err
}

// List returns every user row.
func (r *UserRepo) List(ctx context.Context) ([]entity.User, error) {
	const q = `SELECT nfc_id, given_name, surname, room, admin, date_registered, last_access FROM users`
	rows := []entity.User{}
	if err := sqlx.SelectContext(ctx, r.db, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// Update overwrites the mutable profile fields and the admin flag.
func (r *UserRepo) Update(ctx context.Context, u *entity.User) (int64, error) {
	const q = `UPDATE users SET given_name=:given_name, surname=:surname, room=:room, admin=:admin
		WHERE nfc_id=:nfc_id`
	res, err := sqlx.NamedExecContext(ctx, r.db, q, u)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a user row and reports the number of rows removed.
func (r *UserRepo) Delete(ctx context.Context, nfcID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE nfc_id=?`, nfcID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListInactive returns the ids of non-admin users last seen at or before
// cutoff that have no row in transactions at all.
func (r *UserRepo) ListInactive(ctx context.Context, cutoff int64) ([]string, error) {
	const q = `SELECT users.nfc_id FROM users
		LEFT JOIN transactions ON users.nfc_id = transactions.nfc_id
		WHERE transactions.nfc_id IS NULL
		  AND users.last_access <= ?
		  AND users.admin = 0`
	ids := []string{}
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, cutoff); err != nil {
		return nil, err
	}
	return ids, nil
}
