package store

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-rental-go/internal/user/repo"
)

func newUsers(db sqlx.ExtContext) *userrepo.UserRepo { return userrepo.NewUserRepo(db) }

// AddUser registers nfcID. The first user ever stored becomes admin. It
// returns false on a duplicate id, an empty id, malformed text or any
// database failure; the existing row is never modified.
func (s *Store) AddUser(ctx context.Context, nfcID, givenName, surname, room string) bool {
	s.logger.Debugw("add user", "nfc_id", nfcID)
	if nfcID == "" {
		s.logger.Warnw("add user rejected: empty nfc_id")
		return false
	}
	for _, v := range []string{nfcID, givenName, surname, room} {
		if !utf8.ValidString(v) {
			s.logger.Warnw("add user rejected: malformed field", "nfc_id", nfcID)
			return false
		}
	}
	var admin bool
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		users := newUsers(tx)
		n, err := users.Count(ctx)
		if err != nil {
			return err
		}
		now := s.unix()
		admin = n == 0
		return users.Create(ctx, &entity.User{
			NFCID:          nfcID,
			GivenName:      givenName,
			Surname:        surname,
			Room:           room,
			Admin:          admin,
			DateRegistered: now,
			LastAccess:     now,
		})
	})
	if err != nil {
		s.logger.Warnw("failed to add user", "nfc_id", nfcID, "err", err)
		return false
	}
	s.logger.Infow("added user", "nfc_id", nfcID, "admin", admin)
	return true
}

// GetUser returns the user for nfcID and stamps its last_access, or nil.
func (s *Store) GetUser(ctx context.Context, nfcID string) *entity.User {
	s.logger.Debugw("get user", "nfc_id", nfcID)
	var u *entity.User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		users := newUsers(tx)
		found, err := users.GetByNFCID(ctx, nfcID)
		if err != nil {
			return err
		}
		now := s.unix()
		if err := users.TouchLastAccess(ctx, nfcID, now); err != nil {
			return err
		}
		found.LastAccess = now
		u = found
		return nil
	})
	if err != nil {
		if !isNoRows(err) {
			s.logger.Warnw("get user failed", "nfc_id", nfcID, "err", err)
		}
		return nil
	}
	return u
}

// ListUsers returns a snapshot of all users in no particular order.
func (s *Store) ListUsers(ctx context.Context) []entity.User {
	var users []entity.User
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		users, err = newUsers(db).List(ctx)
		return err
	})
	if err != nil {
		s.logger.Warnw("list users failed", "err", err)
		return []entity.User{}
	}
	return users
}

// UpdateUser overwrites the profile and admin flag. Unknown ids are a no-op.
func (s *Store) UpdateUser(ctx context.Context, nfcID, givenName, surname, room string, admin bool) {
	s.logger.Debugw("update user", "nfc_id", nfcID)
	var n int64
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		n, err = newUsers(db).Update(ctx, &entity.User{
			NFCID:     nfcID,
			GivenName: givenName,
			Surname:   surname,
			Room:      room,
			Admin:     admin,
		})
		return err
	})
	if err != nil {
		s.logger.Warnw("update user failed", "nfc_id", nfcID, "err", err)
		return
	}
	s.logger.Infow("updated user", "nfc_id", nfcID, "rows", n)
}

// DeleteUser removes one user and returns the number of rows removed.
func (s *Store) DeleteUser(ctx context.Context, nfcID string) int {
	s.logger.Debugw("delete user", "nfc_id", nfcID)
	var n int64
	err := s.locked(func(db *sqlx.DB) error {
		var err error
		n, err = newUsers(db).Delete(ctx, nfcID)
		return err
	})
	if err != nil {
		s.logger.Warnw("delete user failed", "nfc_id", nfcID, "err", err)
		return 0
	}
	if n == 0 {
		s.logger.Warnw("failed to remove user", "nfc_id", nfcID)
		return 0
	}
	s.logger.Infow("removed user", "nfc_id", nfcID)
	return int(n)
}

// DeleteInactiveUsers removes every non-admin user whose last access is at
// or before cutoff and who has no transaction rows. It returns the count.
func (s *Store) DeleteInactiveUsers(ctx context.Context, cutoff time.Time) int {
	s.logger.Debugw("delete inactive users", "cutoff", cutoff.Unix())
	var removed []string
	var total int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		users := newUsers(tx)
		ids, err := users.ListInactive(ctx, cutoff.Unix())
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := users.Delete(ctx, id)
			if err != nil {
				return err
			}
			total += n
		}
		removed = ids
		return nil
	})
	if err != nil {
		s.logger.Warnw("delete inactive users failed", "err", err)
		return 0
	}
	s.logger.Infow("removed inactive users", "count", total, "nfc_ids", removed)
	return int(total)
}
