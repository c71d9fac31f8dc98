package rental

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubResolver struct {
	nfcID string
	polls int
}

func (s *stubResolver) PollIdentity(context.Context) (string, bool) {
	s.polls++
	return s.nfcID, s.nfcID != ""
}

type kiosk struct {
	t       *testing.T
	h       *Handler
	cookies []*http.Cookie
}

func newKiosk(t *testing.T, f *fixture, res *stubResolver) *kiosk {
	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	return &kiosk{t: t, h: NewHandler(f.svc, store, res, zap.NewNop().Sugar())}
}

func (k *kiosk) do(handler http.HandlerFunc, method, target, body string) (int, Response) {
	k.t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for _, c := range k.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		k.cookies = cs
	}
	var resp Response
	require.NoError(k.t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHandlerSessionCachesIdentity(t *testing.T) {
	f := newFixture(t)
	res := &stubResolver{nfcID: "B"}
	k := newKiosk(t, f, res)

	code, resp := k.do(k.h.CheckoutPage, http.MethodGet, "/checkout", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Outcome)
	assert.Equal(t, "Bob Builder, R2", resp.Info)

	// badge removed, the session still knows who is checking out
	res.nfcID = ""
	code, _ = k.do(k.h.FinishCheckout, http.MethodPost, "/finish-checkout", "")
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1, res.polls)

	// index starts a new interaction
	k.do(k.h.Index, http.MethodGet, "/index", "")
	code, resp = k.do(k.h.CheckoutPage, http.MethodGet, "/checkout", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "no_nfc_tag", resp.Outcome)
	assert.Equal(t, 2, res.polls)
}

func TestHandlerRegisterFlow(t *testing.T) {
	f := newFixture(t)
	k := newKiosk(t, f, &stubResolver{nfcID: "N1"})

	code, resp := k.do(k.h.CheckoutPage, http.MethodGet, "/checkout", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unregistered", resp.Outcome)

	code, resp = k.do(k.h.Register, http.MethodPost, "/register", `{"given_name":"Nia","surname":"","room":"R9"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "input_error", resp.Outcome)

	code, _ = k.do(k.h.Register, http.MethodPost, "/register", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = k.do(k.h.Register, http.MethodPost, "/register", `{"given_name":"Nia","surname":"Nagel","room":"R9"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Nia Nagel, R9", resp.Info)

	code, resp = k.do(k.h.RegisterPage, http.MethodGet, "/register", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_registered", resp.Outcome)
}

func TestHandlerCheckoutRevertAndCheckin(t *testing.T) {
	f := newFixture(t)
	k := newKiosk(t, f, &stubResolver{nfcID: "B"})

	_, resp := k.do(k.h.FinishCheckout, http.MethodPost, "/finish-checkout", "")
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var c Checkout
	require.NoError(t, json.Unmarshal(raw, &c))
	require.NotZero(t, c.Transaction.ID)

	body := `{"transaction_id":"` + strconv.FormatInt(c.Transaction.ID, 10) + `","removal_key":"wrong"}`
	code, resp := k.do(k.h.RevertCheckout, http.MethodPost, "/finish-checkout/revert", body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "fail_revert", resp.Outcome)

	body = `{"checkin_ids":["` + strconv.FormatInt(c.Transaction.ID, 10) + `","garbage"]}`
	code, resp = k.do(k.h.Checkin, http.MethodPost, "/checkin", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.store.ListTransactions(context.Background()))
}

func TestHandlerAdminGuards(t *testing.T) {
	f := newFixture(t)
	user := newKiosk(t, f, &stubResolver{nfcID: "B"})
	code, resp := user.do(user.h.AdminUsers, http.MethodGet, "/admin/users", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "no_admin", resp.Outcome)

	admin := newKiosk(t, f, &stubResolver{nfcID: "A"})
	code, resp = admin.do(admin.h.ChangeUser, http.MethodPost, "/admin/change_user",
		`{"nfc_id":"A","given_name":"Ada","surname":"Admin","room":"R1","admin":false}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "demotion_error", resp.Outcome)

	code, resp = admin.do(admin.h.ConfirmDeleteUser, http.MethodPost, "/admin/confirm_delete_user", `{"nfc_id":"A"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "self_deletion_error", resp.Outcome)

	code, _ = admin.do(admin.h.AdminUser, http.MethodGet, "/admin/user?nfc_id=Z", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = admin.do(admin.h.ConfirmDeleteUser, http.MethodPost, "/admin/confirm_delete_user", `{"nfc_id":"C"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, f.store.GetUser(context.Background(), "C"))
}
