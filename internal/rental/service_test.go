package rental

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/store"
	txentity "github.com/ovaphlow/pitchfork/service-rental-go/internal/transaction/entity"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/database"
)

type fixedIdentity struct {
	nfcID       string
	invalidated int
}

func (f *fixedIdentity) Resolve(context.Context) (string, bool) { return f.nfcID, f.nfcID != "" }
func (f *fixedIdentity) Invalidate()                           { f.invalidated++ }

func badge(nfcID string) *fixedIdentity { return &fixedIdentity{nfcID: nfcID} }

type fakeCamera struct{ image []byte }

func (c *fakeCamera) CaptureImage(context.Context) []byte { return c.image }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	st := store.New(zap.NewNop().Sugar(), node)
	require.NoError(t, st.Open(database.Config{Path: filepath.Join(t.TempDir(), "rental.db"), Timeout: time.Second}))
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fixture struct {
	svc     *Service
	store   *store.Store
	camera  *fakeCamera
	metrics *metrics.Metrics
}

// newFixture registers admin A and users B and C.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := openStore(t)
	ctx := context.Background()
	require.True(t, st.AddUser(ctx, "A", "Ada", "Admin", "R1"))
	require.True(t, st.AddUser(ctx, "B", "Bob", "Builder", "R2"))
	require.True(t, st.AddUser(ctx, "C", "Cleo", "Carpenter", "R3"))
	cam := &fakeCamera{image: []byte{0xff, 0xd8, 0xff, 0xd9}}
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		svc:     NewService(st, cam, m, zap.NewNop().Sugar(), ""),
		store:   st,
		camera:  cam,
		metrics: m,
	}
}

func (f *fixture) checkout(t *testing.T, nfcID string) txentity.Transaction {
	t.Helper()
	c, err := f.svc.FinishCheckout(context.Background(), badge(nfcID))
	require.NoError(t, err)
	return c.Transaction
}

func TestIdentify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Identify(ctx, badge(""))
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = f.svc.Identify(ctx, badge("Z"))
	assert.ErrorIs(t, err, ErrNotRegistered)

	u, err := f.svc.Identify(ctx, badge("B"))
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.GivenName)
}

func TestIdentityInfo(t *testing.T) {
	f := newFixture(t)
	line, err := f.svc.IdentityInfo(context.Background(), badge("B"))
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder, R2", line)

	custom := NewService(f.store, f.camera, nil, zap.NewNop().Sugar(), "${room}: ${surname}")
	line, err = custom.IdentityInfo(context.Background(), badge("B"))
	require.NoError(t, err)
	assert.Equal(t, "R2: Builder", line)
}

func TestRegister(t *testing.T) {
	st := openStore(t)
	svc := NewService(st, &fakeCamera{}, nil, zap.NewNop().Sugar(), "")
	ctx := context.Background()

	_, err := svc.Register(ctx, badge(""), "a", "b", "c")
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = svc.Register(ctx, badge("N1"), "Nia", "", "R9")
	assert.ErrorIs(t, err, ErrInputError)
	assert.Nil(t, st.GetUser(ctx, "N1"))

	target, err := svc.RegistrationTarget(ctx, badge("N1"))
	require.NoError(t, err)
	assert.Equal(t, "N1", target)

	u, err := svc.Register(ctx, badge("N1"), "Nia", "Nagel", "R9")
	require.NoError(t, err)
	assert.True(t, u.Admin, "first user bootstraps admin")

	// immediately eligible for checkout
	_, err = svc.CheckoutPage(ctx, badge("N1"))
	assert.NoError(t, err)

	_, err = svc.RegistrationTarget(ctx, badge("N1"))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	_, err = svc.Register(ctx, badge("N1"), "x", "y", "z")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	u2, err := svc.Register(ctx, badge("N2"), "Otto", "Ort", "R8")
	require.NoError(t, err)
	assert.False(t, u2.Admin)
}

func TestFinishCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.FinishCheckout(ctx, badge("B"))
	require.NoError(t, err)
	assert.Equal(t, "B", c.Transaction.NFCID)
	assert.Equal(t, "B", c.User.NFCID)
	assert.Equal(t, f.camera.image, c.Transaction.Image)
	assert.Len(t, c.Transaction.RemovalKey, 64)
	assert.Len(t, f.store.ListTransactionsByUser(ctx, "B"), 1)

	_, err = f.svc.FinishCheckout(ctx, badge("Z"))
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Outcomes.WithLabelValues("finish_checkout", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Outcomes.WithLabelValues("finish_checkout", "unregistered")))
}

func TestFinishCheckoutWithoutImage(t *testing.T) {
	f := newFixture(t)
	f.camera.image = nil

	_, err := f.svc.FinishCheckout(context.Background(), badge("B"))
	assert.ErrorIs(t, err, ErrDatabaseIntegrity)
	assert.Empty(t, f.store.ListTransactions(context.Background()))
}

// tamperedStore hands back a transaction owned by someone else.
type tamperedStore struct {
	*store.Store
}

func (s tamperedStore) GetTransaction(ctx context.Context, id int64) *txentity.Transaction {
	t := s.Store.GetTransaction(ctx, id)
	if t != nil {
		t.NFCID = "C"
	}
	return t
}

func TestFinishCheckoutIntegrityMismatch(t *testing.T) {
	f := newFixture(t)
	svc := NewService(tamperedStore{f.store}, f.camera, nil, zap.NewNop().Sugar(), "")

	_, err := svc.FinishCheckout(context.Background(), badge("B"))
	assert.ErrorIs(t, err, ErrDatabaseIntegrity)
}

func TestRevertCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.checkout(t, "B")

	err := f.svc.RevertCheckout(ctx, tx.ID, "not-the-key")
	assert.ErrorIs(t, err, ErrRevertFailed)
	assert.NotNil(t, f.store.GetTransaction(ctx, tx.ID))

	require.NoError(t, f.svc.RevertCheckout(ctx, tx.ID, tx.RemovalKey))
	assert.Nil(t, f.store.GetTransaction(ctx, tx.ID))

	assert.ErrorIs(t, f.svc.RevertCheckout(ctx, tx.ID, tx.RemovalKey), ErrRevertFailed)
}

func TestCheckin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.checkout(t, "B")
	foreign := f.checkout(t, "C")

	t.Run("foreign loans are not returned", func(t *testing.T) {
		res, err := f.svc.Checkin(ctx, badge("B"), []int64{foreign.ID, 999})
		require.NoError(t, err)
		assert.Zero(t, res.Removed)
		require.Len(t, res.Open, 1)
		assert.Equal(t, own.ID, res.Open[0].ID)
		assert.NotNil(t, f.store.GetTransaction(ctx, foreign.ID))
	})

	t.Run("empty selection shows open loans", func(t *testing.T) {
		res, err := f.svc.Checkin(ctx, badge("B"), nil)
		require.NoError(t, err)
		assert.Zero(t, res.Removed)
		assert.Len(t, res.Open, 1)
	})

	t.Run("own loans are returned", func(t *testing.T) {
		list, err := f.svc.CheckinList(ctx, badge("B"))
		require.NoError(t, err)
		require.Len(t, list, 1)

		res, err := f.svc.Checkin(ctx, badge("B"), []int64{own.ID, foreign.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		require.Len(t, res.Returned, 1)
		assert.Equal(t, own.ID, res.Returned[0].ID)
		assert.Empty(t, f.store.ListTransactionsByUser(ctx, "B"))
	})

	_, err := f.svc.Checkin(ctx, badge(""), []int64{foreign.ID})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	f.checkout(t, "B")
	f.checkout(t, "B")
	f.checkout(t, "C")

	id := badge("B")
	o := f.svc.Overview(context.Background(), id)
	assert.Equal(t, 1, id.invalidated)
	assert.Len(t, o.Transactions, 3)
	assert.Len(t, o.Users, 2)
	assert.Contains(t, o.Users, "B")
	assert.Contains(t, o.Users, "C")
}

func TestAdminRequiresPrivilege(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := badge("B")

	_, err := f.svc.AdminUsers(ctx, user)
	assert.ErrorIs(t, err, ErrNoAdminPrivilege)
	_, err = f.svc.AdminUser(ctx, user, "C")
	assert.ErrorIs(t, err, ErrNoAdminPrivilege)
	assert.ErrorIs(t, f.svc.ChangeUser(ctx, user, UserForm{NFCID: "C", GivenName: "x", Surname: "y", Room: "z"}), ErrNoAdminPrivilege)
	assert.ErrorIs(t, f.svc.ConfirmDeleteUser(ctx, user, "C"), ErrNoAdminPrivilege)
	_, err = f.svc.AdminTransactions(ctx, user, "")
	assert.ErrorIs(t, err, ErrNoAdminPrivilege)
	_, err = f.svc.AdminCheckin(ctx, user, "", nil)
	assert.ErrorIs(t, err, ErrNoAdminPrivilege)

	assert.NotNil(t, f.store.GetUser(ctx, "C"))
}

func TestAdminUsers(t *testing.T) {
	f := newFixture(t)
	f.checkout(t, "B")
	f.checkout(t, "B")

	list, err := f.svc.AdminUsers(context.Background(), badge("A"))
	require.NoError(t, err)
	counts := map[string]int{}
	for _, s := range list {
		counts[s.NFCID] = s.Transactions
	}
	assert.Equal(t, map[string]int{"A": 0, "B": 2, "C": 0}, counts)

	u, err := f.svc.AdminUser(context.Background(), badge("A"), "C")
	require.NoError(t, err)
	assert.Equal(t, "Cleo", u.GivenName)

	_, err = f.svc.AdminUser(context.Background(), badge("A"), "Z")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestChangeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := badge("A")

	err := f.svc.ChangeUser(ctx, admin, UserForm{NFCID: "B", GivenName: "", Surname: "y", Room: "z"})
	assert.ErrorIs(t, err, ErrInputError)

	err = f.svc.ChangeUser(ctx, admin, UserForm{NFCID: "A", GivenName: "Ada", Surname: "Admin", Room: "R1", Admin: false})
	assert.ErrorIs(t, err, ErrDemotion)
	assert.True(t, f.store.GetUser(ctx, "A").Admin)

	// editing own profile while keeping the flag is fine
	require.NoError(t, f.svc.ChangeUser(ctx, admin, UserForm{NFCID: "A", GivenName: "Ada", Surname: "Lovelace", Room: "R1", Admin: true}))
	assert.Equal(t, "Lovelace", f.store.GetUser(ctx, "A").Surname)

	require.NoError(t, f.svc.ChangeUser(ctx, admin, UserForm{NFCID: "B", GivenName: "Bob", Surname: "Builder", Room: "R7", Admin: true}))
	b := f.store.GetUser(ctx, "B")
	assert.True(t, b.Admin)
	assert.Equal(t, "R7", b.Room)
}

func TestDeleteUserGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := badge("A")
	f.checkout(t, "B")

	t.Run("self deletion is rejected regardless of loans", func(t *testing.T) {
		_, err := f.svc.RequestDeleteUser(ctx, admin, UserForm{NFCID: "A", GivenName: "Ada", Surname: "Admin", Room: "R1"})
		assert.ErrorIs(t, err, ErrSelfDeletion)
		assert.ErrorIs(t, f.svc.ConfirmDeleteUser(ctx, admin, "A"), ErrSelfDeletion)
		assert.NotNil(t, f.store.GetUser(ctx, "A"))
	})

	t.Run("users with loans are kept", func(t *testing.T) {
		_, err := f.svc.RequestDeleteUser(ctx, admin, UserForm{NFCID: "B", GivenName: "Bob", Surname: "Builder", Room: "R2"})
		assert.ErrorIs(t, err, ErrTransactionsRemain)
		assert.ErrorIs(t, f.svc.ConfirmDeleteUser(ctx, admin, "B"), ErrTransactionsRemain)
		assert.NotNil(t, f.store.GetUser(ctx, "B"))
	})

	t.Run("blank fields are rejected", func(t *testing.T) {
		_, err := f.svc.RequestDeleteUser(ctx, admin, UserForm{NFCID: "C"})
		assert.ErrorIs(t, err, ErrInputError)
		assert.ErrorIs(t, f.svc.ConfirmDeleteUser(ctx, admin, ""), ErrInputError)
	})

	t.Run("childless non-self user is deleted", func(t *testing.T) {
		form := UserForm{NFCID: "C", GivenName: "Cleo", Surname: "Carpenter", Room: "R3"}
		pending, err := f.svc.RequestDeleteUser(ctx, admin, form)
		require.NoError(t, err)
		assert.Equal(t, form, *pending)
		assert.NotNil(t, f.store.GetUser(ctx, "C"), "request alone deletes nothing")

		require.NoError(t, f.svc.ConfirmDeleteUser(ctx, admin, "C"))
		assert.Nil(t, f.store.GetUser(ctx, "C"))
		assert.ErrorIs(t, f.svc.ConfirmDeleteUser(ctx, admin, "C"), ErrUnknownUser)
	})
}

func TestAdminTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.checkout(t, "B")
	c := f.checkout(t, "C")

	all, err := f.svc.AdminTransactions(ctx, badge("A"), "")
	require.NoError(t, err)
	assert.Len(t, all.Transactions, 2)

	onlyC, err := f.svc.AdminTransactions(ctx, badge("A"), "C")
	require.NoError(t, err)
	require.Len(t, onlyC.Transactions, 1)
	assert.Equal(t, c.ID, onlyC.Transactions[0].ID)
	assert.Len(t, onlyC.Users, 1)

	// admin check-in needs neither removal key nor ownership
	res, err := f.svc.AdminCheckin(ctx, badge("A"), "", []int64{b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Nil(t, f.store.GetTransaction(ctx, b.ID))

	res, err = f.svc.AdminCheckin(ctx, badge("A"), "C", []int64{b.ID})
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	require.Len(t, res.Open, 1)
	assert.Equal(t, c.ID, res.Open[0].ID)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "demotion_error", Outcome(ErrDemotion))
	assert.Equal(t, "unregistered", Outcome(ErrNotRegistered))
	assert.Equal(t, "error", Outcome(assert.AnError))
}
