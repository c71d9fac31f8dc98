// Package rental decides what a badge holder may do at the station and
// turns each interaction into store operations.
//
// Every interaction starts by resolving the session identity. No tag ends
// it with ErrNoIdentity, an unknown tag is routed to registration with
// ErrNotRegistered, a known tag unlocks checkout and check-in, and the admin
// flag additionally unlocks user and transaction management.
package rental

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/metrics"
	txentity "github.com/ovaphlow/pitchfork/service-rental-go/internal/transaction/entity"
	userentity "github.com/ovaphlow/pitchfork/service-rental-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

// Store is the subset of the persistent store the rental flows need.
type Store interface {
	AddUser(ctx context.Context, nfcID, givenName, surname, room string) bool
	GetUser(ctx context.Context, nfcID string) *userentity.User
	ListUsers(ctx context.Context) []userentity.User
	UpdateUser(ctx context.Context, nfcID, givenName, surname, room string, admin bool)
	DeleteUser(ctx context.Context, nfcID string) int
	AddTransaction(ctx context.Context, nfcID string, image []byte) (int64, bool)
	ListTransactions(ctx context.Context) []txentity.Transaction
	GetTransaction(ctx context.Context, id int64) *txentity.Transaction
	ListTransactionsByUser(ctx context.Context, nfcID string) []txentity.Transaction
	DeleteTransaction(ctx context.Context, id int64, removalKey string) int
	SafeDeleteTransaction(ctx context.Context, id int64, removalKey, nfcID string) int
	UnsafeDeleteTransaction(ctx context.Context, id int64) int
}

// Camera returns the current photo or nil when capturing failed.
type Camera interface {
	CaptureImage(ctx context.Context) []byte
}

// Identity is the per-session identity cache.
type Identity interface {
	Resolve(ctx context.Context) (string, bool)
	Invalidate()
}

const DefaultUserTemplate = "${given_name} ${surname}, ${room}"

type Service struct {
	store        Store
	camera       Camera
	metrics      *metrics.Metrics
	logger       *zap.SugaredLogger
	userTemplate string
}

func NewService(store Store, camera Camera, m *metrics.Metrics, logger *zap.SugaredLogger, userTemplate string) *Service {
	if userTemplate == "" {
		userTemplate = DefaultUserTemplate
	}
	return &Service{store: store, camera: camera, metrics: m, logger: logger, userTemplate: userTemplate}
}

// Overview lists the open loans with their owners.
type Overview struct {
	Transactions []txentity.Transaction    `json:"transactions"`
	Users        map[string]userentity.User `json:"users"`
}

// Checkout is a confirmed checkout, still revertible with its removal key.
type Checkout struct {
	Transaction txentity.Transaction `json:"transaction"`
	User        userentity.User      `json:"user"`
}

// CheckinResult reports a check-in. When nothing was removed Open holds the
// loans still listed for the caller.
type CheckinResult struct {
	Removed  int                    `json:"removed"`
	Returned []txentity.Transaction `json:"returned"`
	Open     []txentity.Transaction `json:"open,omitempty"`
}

// UserForm is an admin edit or delete submission.
type UserForm struct {
	NFCID     string `json:"nfc_id"`
	GivenName string `json:"given_name"`
	Surname   string `json:"surname"`
	Room      string `json:"room"`
	Admin     bool   `json:"admin"`
}

func (f UserForm) complete() bool {
	return !blank(f.NFCID, f.GivenName, f.Surname, f.Room)
}

func blank(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return true
		}
	}
	return false
}

func (s *Service) record(op string, err *error) {
	s.metrics.Outcome(op, Outcome(*err))
}

// Identify resolves the session identity to a registered user.
func (s *Service) Identify(ctx context.Context, id Identity) (*userentity.User, error) {
	nfcID, ok := id.Resolve(ctx)
	if !ok {
		return nil, ErrNoIdentity
	}
	u := s.store.GetUser(ctx, nfcID)
	if u == nil {
		s.logger.Debugw("nfc_id not in database", "nfc_id", nfcID)
		return nil, fmt.Errorf("%s: %w", nfcID, ErrNotRegistered)
	}
	return u, nil
}

func (s *Service) identifyAdmin(ctx context.Context, id Identity) (*userentity.User, error) {
	u, err := s.Identify(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Admin {
		s.logger.Warnw("admin page requested without admin privileges", "nfc_id", u.NFCID)
		return nil, ErrNoAdminPrivilege
	}
	return u, nil
}

// DescribeUser renders the identity line for u.
func (s *Service) DescribeUser(u *userentity.User) string {
	if u == nil {
		return ""
	}
	return utilities.ExpandTemplate(s.userTemplate, map[string]string{
		"given_name": u.GivenName,
		"surname":    u.Surname,
		"room":       u.Room,
	})
}

// IdentityInfo describes whoever holds the current badge.
func (s *Service) IdentityInfo(ctx context.Context, id Identity) (string, error) {
	u, err := s.Identify(ctx, id)
	if err != nil {
		return "", err
	}
	return s.DescribeUser(u), nil
}

// Overview starts a new interaction: the cached identity is dropped and all
// open loans are listed.
func (s *Service) Overview(ctx context.Context, id Identity) *Overview {
	id.Invalidate()
	txs := s.store.ListTransactions(ctx)
	s.logger.Infow("display all current transactions", "count", len(txs))
	return &Overview{Transactions: txs, Users: s.owners(ctx, txs)}
}

func (s *Service) owners(ctx context.Context, txs []txentity.Transaction) map[string]userentity.User {
	wanted := make(map[string]struct{}, len(txs))
	for _, t := range txs {
		wanted[t.NFCID] = struct{}{}
	}
	users := make(map[string]userentity.User, len(wanted))
	for _, u := range s.store.ListUsers(ctx) {
		if _, ok := wanted[u.NFCID]; ok {
			users[u.NFCID] = u
		}
	}
	return users
}

// RegistrationTarget returns the identity a registration form would bind to.
func (s *Service) RegistrationTarget(ctx context.Context, id Identity) (nfcID string, err error) {
	defer s.record("register_page", &err)
	nfcID, ok := id.Resolve(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	if s.store.GetUser(ctx, nfcID) != nil {
		s.logger.Infow("registered user visited registration page", "nfc_id", nfcID)
		return "", ErrAlreadyRegistered
	}
	return nfcID, nil
}

// Register stores a new user for the session identity. All fields are
// required.
func (s *Service) Register(ctx context.Context, id Identity, givenName, surname, room string) (u *userentity.User, err error) {
	defer s.record("register", &err)
	nfcID, ok := id.Resolve(ctx)
	if !ok {
		return nil, ErrNoIdentity
	}
	if s.store.GetUser(ctx, nfcID) != nil {
		return nil, ErrAlreadyRegistered
	}
	if blank(givenName, surname, room) {
		s.logger.Warnw("registration with empty fields", "nfc_id", nfcID)
		return nil, ErrInputError
	}
	if !s.store.AddUser(ctx, nfcID, givenName, surname, room) {
		return nil, fmt.Errorf("%s: %w", nfcID, ErrRegistrationFailed)
	}
	u = s.store.GetUser(ctx, nfcID)
	if u == nil {
		return nil, fmt.Errorf("registered %s not found: %w", nfcID, ErrDatabaseIntegrity)
	}
	s.logger.Infow("registered user", "nfc_id", nfcID)
	return u, nil
}

// CheckoutPage admits a registered user to the camera view.
func (s *Service) CheckoutPage(ctx context.Context, id Identity) (u *userentity.User, err error) {
	defer s.record("checkout_page", &err)
	return s.Identify(ctx, id)
}

// FinishCheckout photographs the tool, stores the loan and verifies it by
// reading it back. Any mismatch is reported as ErrDatabaseIntegrity.
func (s *Service) FinishCheckout(ctx context.Context, id Identity) (c *Checkout, err error) {
	defer s.record("finish_checkout", &err)
	u, err := s.Identify(ctx, id)
	if err != nil {
		return nil, err
	}
	image := s.camera.CaptureImage(ctx)
	txID, ok := s.store.AddTransaction(ctx, u.NFCID, image)
	if !ok {
		return nil, fmt.Errorf("add transaction for %s: %w", u.NFCID, ErrDatabaseIntegrity)
	}
	t := s.store.GetTransaction(ctx, txID)
	if t == nil || t.NFCID != u.NFCID {
		return nil, fmt.Errorf("transaction %d does not belong to %s: %w", txID, u.NFCID, ErrDatabaseIntegrity)
	}
	owner := s.store.GetUser(ctx, t.NFCID)
	if owner == nil {
		return nil, fmt.Errorf("owner of transaction %d missing: %w", txID, ErrDatabaseIntegrity)
	}
	s.logger.Infow("added transaction", "transaction_id", txID, "nfc_id", u.NFCID)
	return &Checkout{Transaction: *t, User: *owner}, nil
}

// RevertCheckout cancels a just created checkout with the removal key shown
// on the confirmation.
func (s *Service) RevertCheckout(ctx context.Context, txID int64, removalKey string) (err error) {
	defer s.record("revert_checkout", &err)
	if s.store.DeleteTransaction(ctx, txID, removalKey) == 0 {
		s.logger.Warnw("failed to revert transaction", "transaction_id", txID)
		return fmt.Errorf("transaction %d: %w", txID, ErrRevertFailed)
	}
	s.logger.Infow("reverted transaction", "transaction_id", txID)
	return nil
}

// CheckinList returns the open loans of the session user.
func (s *Service) CheckinList(ctx context.Context, id Identity) (txs []txentity.Transaction, err error) {
	defer s.record("checkin_page", &err)
	u, err := s.Identify(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByUser(ctx, u.NFCID), nil
}

// Checkin returns the selected loans of the session user. Only loans the
// user owns are removed. Removing nothing is not an error.
func (s *Service) Checkin(ctx context.Context, id Identity, txIDs []int64) (res *CheckinResult, err error) {
	defer s.record("checkin", &err)
	u, err := s.Identify(ctx, id)
	if err != nil {
		return nil, err
	}
	res = &CheckinResult{Returned: []txentity.Transaction{}}
	for _, txID := range txIDs {
		t := s.store.GetTransaction(ctx, txID)
		if t == nil {
			continue
		}
		if s.store.SafeDeleteTransaction(ctx, txID, t.RemovalKey, u.NFCID) == 1 {
			res.Removed++
			res.Returned = append(res.Returned, *t)
		}
	}
	if res.Removed == 0 {
		res.Open = s.store.ListTransactionsByUser(ctx, u.NFCID)
		return res, nil
	}
	s.logger.Infow("checked in transactions", "nfc_id", u.NFCID, "count", res.Removed)
	return res, nil
}

// AdminUsers lists every user with the number of open loans.
func (s *Service) AdminUsers(ctx context.Context, id Identity) (list []userentity.Summary, err error) {
	defer s.record("admin_users", &err)
	if _, err := s.identifyAdmin(ctx, id); err != nil {
		return nil, err
	}
	users := s.store.ListUsers(ctx)
	list = make([]userentity.Summary, 0, len(users))
	for _, u := range users {
		list = append(list, userentity.Summary{
			User:         u,
			Transactions: len(s.store.ListTransactionsByUser(ctx, u.NFCID)),
		})
	}
	s.logger.Infow("display userlist", "count", len(list))
	return list, nil
}

// AdminUser returns one user for editing.
func (s *Service) AdminUser(ctx context.Context, id Identity, target string) (u *userentity.User, err error) {
	defer s.record("admin_user", &err)
	if _, err := s.identifyAdmin(ctx, id); err != nil {
		return nil, err
	}
	u = s.store.GetUser(ctx, target)
	if u == nil {
		return nil, fmt.Errorf("%s: %w", target, ErrUnknownUser)
	}
	return u, nil
}

// ChangeUser overwrites a user's profile. An admin may not drop their own
// admin flag.
func (s *Service) ChangeUser(ctx context.Context, id Identity, form UserForm) (err error) {
	defer s.record("change_user", &err)
	admin, err := s.identifyAdmin(ctx, id)
	if err != nil {
		return err
	}
	if !form.complete() {
		return ErrInputError
	}
	if form.NFCID == admin.NFCID && form.Admin != admin.Admin {
		s.logger.Infow("denied revoking own admin privileges", "nfc_id", admin.NFCID)
		return ErrDemotion
	}
	s.store.UpdateUser(ctx, form.NFCID, form.GivenName, form.Surname, form.Room, form.Admin)
	s.logger.Infow("updated user data", "admin", admin.NFCID, "nfc_id", form.NFCID)
	return nil
}

func (s *Service) deletable(ctx context.Context, admin *userentity.User, target string) error {
	if target == admin.NFCID {
		s.logger.Infow("denied deleting own account", "nfc_id", admin.NFCID)
		return ErrSelfDeletion
	}
	if len(s.store.ListTransactionsByUser(ctx, target)) > 0 {
		s.logger.Infow("user has transactions remaining", "nfc_id", target)
		return ErrTransactionsRemain
	}
	return nil
}

// RequestDeleteUser validates a delete submission and returns it for
// confirmation. Nothing is deleted yet.
func (s *Service) RequestDeleteUser(ctx context.Context, id Identity, form UserForm) (f *UserForm, err error) {
	defer s.record("delete_user", &err)
	admin, err := s.identifyAdmin(ctx, id)
	if err != nil {
		return nil, err
	}
	if !form.complete() {
		return nil, ErrInputError
	}
	if err := s.deletable(ctx, admin, form.NFCID); err != nil {
		return nil, err
	}
	s.logger.Infow("starting deletion", "admin", admin.NFCID, "nfc_id", form.NFCID)
	return &form, nil
}

// ConfirmDeleteUser re-checks the guards and deletes target.
func (s *Service) ConfirmDeleteUser(ctx context.Context, id Identity, target string) (err error) {
	defer s.record("confirm_delete_user", &err)
	admin, err := s.identifyAdmin(ctx, id)
	if err != nil {
		return err
	}
	if blank(target) {
		return ErrInputError
	}
	if err := s.deletable(ctx, admin, target); err != nil {
		return err
	}
	if s.store.DeleteUser(ctx, target) == 0 {
		return fmt.Errorf("%s: %w", target, ErrUnknownUser)
	}
	s.logger.Infow("confirmed deletion", "admin", admin.NFCID, "nfc_id", target)
	return nil
}

func (s *Service) transactionsFor(ctx context.Context, nfcID string) []txentity.Transaction {
	if nfcID != "" {
		return s.store.ListTransactionsByUser(ctx, nfcID)
	}
	return s.store.ListTransactions(ctx)
}

// AdminTransactions lists all open loans, or those of filter when set.
func (s *Service) AdminTransactions(ctx context.Context, id Identity, filter string) (o *Overview, err error) {
	defer s.record("admin_transactions", &err)
	if _, err := s.identifyAdmin(ctx, id); err != nil {
		return nil, err
	}
	txs := s.transactionsFor(ctx, filter)
	return &Overview{Transactions: txs, Users: s.owners(ctx, txs)}, nil
}

// AdminCheckin returns loans on behalf of any user, without removal key or
// owner checks.
func (s *Service) AdminCheckin(ctx context.Context, id Identity, filter string, txIDs []int64) (res *CheckinResult, err error) {
	defer s.record("admin_checkin", &err)
	admin, err := s.identifyAdmin(ctx, id)
	if err != nil {
		return nil, err
	}
	res = &CheckinResult{Returned: []txentity.Transaction{}}
	for _, txID := range txIDs {
		t := s.store.GetTransaction(ctx, txID)
		if s.store.UnsafeDeleteTransaction(ctx, txID) == 1 && t != nil {
			res.Removed++
			res.Returned = append(res.Returned, *t)
		}
	}
	if res.Removed == 0 {
		res.Open = s.transactionsFor(ctx, filter)
		return res, nil
	}
	s.logger.Infow("admin removed transactions", "admin", admin.NFCID, "filter", filter, "count", res.Removed)
	return res, nil
}
