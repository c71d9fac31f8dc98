package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/transaction/entity"
	txrepo "github.com/ovaphlow/pitchfork/service-rental-go/internal/transaction/repo"
)

func newTransactions(db sqlx.ExtContext) *txrepo.TransactionRepo {
	return txrepo.NewTransactionRepo(db)
}

// AddTransaction records a checkout of one tool by nfcID with its photo and
// returns the new transaction id. It fails for an empty id, a nil or empty
// image and any database error.
func (s *Store) AddTransaction(ctx context.Context, nfcID string, image []byte) (int64, bool) {
	s.logger.Debugw("add transaction", "nfc_id", nfcID)
	if nfcID == "" {
		s.logger.Warnw("can't add transaction without valid nfc_id")
		return 0, false
	}
	if image == nil {
		s.logger.Warnw("can't add transaction without image", "nfc_id", nfcID)
		return 0, false
	}
	if len(image) == 0 {
		s.logger.Warnw("invalid image data for transaction", "nfc_id", nfcID)
		return 0, false
	}
	key, err := s.removalKey()
	if err != nil {
		s.logger.Warnw("removal key generation failed", "nfc_id", nfcID, "err", err)
		return 0, false
	}
	t := &entity.Transaction{
		NFCID:      nfcID,
		RemovalKey: key,
		Image:      image,
	}
	err = s.locked(func(db *sqlx.DB) error {
		t.ID = s.ids.Generate().Int64()
		t.TransactionTime = s.unix()
		return newTransactions(db).Create(ctx, t)
	})
	if err != nil {
		s.logger.Warnw("failed to add transaction", "nfc_id", nfcID, "err", err)
		return 0, false
	}
	s.logger.Debugw("added transaction", "transaction_id", t.ID, "nfc_id", nfcID)
	return t.ID, true
}

// ListTransactions returns every open transaction.
func (s *Store) ListTransactions(ctx context.Context) []entity.Transaction {
	var rows []entity.Transaction
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		rows, err = newTransactions(db).List(ctx)
		return err
	})
	if err != nil {
		s.logger.Warnw("list transactions failed", "err", err)
		return []entity.Transaction{}
	}
	return rows
}

// GetTransaction returns one transaction or nil.
func (s *Store) GetTransaction(ctx context.Context, id int64) *entity.Transaction {
	s.logger.Debugw("get transaction", "transaction_id", id)
	var t *entity.Transaction
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		t, err = newTransactions(db).Get(ctx, id)
		return err
	})
	if err != nil {
		if !isNoRows(err) {
			s.logger.Warnw("get transaction failed", "transaction_id", id, "err", err)
		}
		return nil
	}
	return t
}

// ListTransactionsByUser returns the open transactions owned by nfcID.
func (s *Store) ListTransactionsByUser(ctx context.Context, nfcID string) []entity.Transaction {
	s.logger.Debugw("list transactions by user", "nfc_id", nfcID)
	var rows []entity.Transaction
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		rows, err = newTransactions(db).ListByNFCID(ctx, nfcID)
		return err
	})
	if err != nil {
		s.logger.Warnw("list transactions by user failed", "nfc_id", nfcID, "err", err)
		return []entity.Transaction{}
	}
	return rows
}

// DeleteTransaction deletes the transaction iff id and removal key match.
func (s *Store) DeleteTransaction(ctx context.Context, id int64, removalKey string) int {
	return s.deleteTransaction(ctx, "delete", id, func(r *txrepo.TransactionRepo) (int64, error) {
		return r.Delete(ctx, id, removalKey)
	})
}

// SafeDeleteTransaction additionally requires nfcID to own the transaction.
// Used for self-service check-in.
func (s *Store) SafeDeleteTransaction(ctx context.Context, id int64, removalKey, nfcID string) int {
	return s.deleteTransaction(ctx, "safe delete", id, func(r *txrepo.TransactionRepo) (int64, error) {
		return r.DeleteOwned(ctx, id, removalKey, nfcID)
	})
}

// UnsafeDeleteTransaction deletes by id alone, bypassing the removal key.
// Reserved for administrative check-in.
func (s *Store) UnsafeDeleteTransaction(ctx context.Context, id int64) int {
	return s.deleteTransaction(ctx, "unsafe delete", id, func(r *txrepo.TransactionRepo) (int64, error) {
		return r.DeleteByID(ctx, id)
	})
}

func (s *Store) deleteTransaction(ctx context.Context, op string, id int64, del func(*txrepo.TransactionRepo) (int64, error)) int {
	s.logger.Debugw(op+" transaction", "transaction_id", id)
	var n int64
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		n, err = del(newTransactions(db))
		return err
	})
	if err != nil {
		s.logger.Warnw(op+" transaction failed", "transaction_id", id, "err", err)
		return 0
	}
	if n == 0 {
		s.logger.Infow("failed to remove transaction", "op", op, "transaction_id", id)
		return 0
	}
	s.logger.Infow("removed transaction", "op", op, "transaction_id", id)
	return int(n)
}
