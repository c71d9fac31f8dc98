package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/transaction/entity"
)

const columns = `transaction_id, nfc_id, transaction_time, removal_key, image`

// TransactionRepo provides data access for the transactions table.
type TransactionRepo struct {
	db sqlx.ExtContext
}

func NewTransactionRepo(db sqlx.ExtContext) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// EnsureTable creates the transactions table and its owner index.
func (r *TransactionRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id INTEGER PRIMARY KEY NOT NULL,
		nfc_id TEXT NOT NULL,
		transaction_time INTEGER NOT NULL,
		removal_key TEXT NOT NULL,
		image BLOB NOT NULL
	)`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_transactions_nfc_id ON transactions (nfc_id)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	return nil
}

// Create inserts a transaction row carrying a caller-assigned id.
func (r *TransactionRepo) Create(ctx context.Context, t *entity.Transaction) error {
	q := `INSERT INTO transactions (` + columns + `)
		VALUES (:transaction_id, :nfc_id, :transaction_time, :removal_key, :image)`
	_, err := sqlx.NamedExecContext(ctx, r.db, q, t)
	return err
}

// Get returns one transaction or sql.ErrNoRows.
func (r *TransactionRepo) Get(ctx context.Context, id int64) (*entity.Transaction, error) {
	var t entity.Transaction
	if err := sqlx.GetContext(ctx, r.db, &t, `SELECT `+columns+` FROM transactions WHERE transaction_id=?`, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns all open transactions, oldest first.
func (r *TransactionRepo) List(ctx context.Context) ([]entity.Transaction, error) {
	rows := []entity.Transaction{}
	if err := sqlx.SelectContext(ctx, r.db, &rows, `SELECT `+columns+` FROM transactions ORDER BY transaction_id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByNFCID returns the open transactions of one user.
func (r *TransactionRepo) ListByNFCID(ctx context.Context, nfcID string) ([]entity.Transaction, error) {
	rows := []entity.Transaction{}
	q := `SELECT ` + columns + ` FROM transactions WHERE nfc_id=? ORDER BY transaction_id`
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, nfcID); err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes the row matching id and removal key.
func (r *TransactionRepo) Delete(ctx context.Context, id int64, removalKey string) (int64, error) {
	return r.exec(ctx, `DELETE FROM transactions WHERE transaction_id=? AND removal_key=?`, id, removalKey)
}

// DeleteOwned additionally requires the owner to match.
func (r *TransactionRepo) DeleteOwned(ctx context.Context, id int64, removalKey, nfcID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM transactions WHERE transaction_id=? AND removal_key=? AND nfc_id=?`, id, removalKey, nfcID)
}

// DeleteByID removes the row by id alone.
func (r *TransactionRepo) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM transactions WHERE transaction_id=?`, id)
}

func (r *TransactionRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
