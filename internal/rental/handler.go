package rental

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

// SessionName is the cookie holding the kiosk session.
const SessionName = "werkzeugverleih"

// Handler exposes the rental flows as JSON endpoints. Each request loads the
// kiosk session and builds its identity cache on the session values.
type Handler struct {
	svc      *Service
	sessions sessions.Store
	resolver identity.Resolver
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, store sessions.Store, resolver identity.Resolver, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: store, resolver: resolver, logger: logger}
}

// Response is the body of every rental endpoint.
type Response struct {
	Outcome string `json:"outcome"`
	Info    string `json:"nfc_info,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RegisterRequest registration form.
type RegisterRequest struct {
	GivenName string `json:"given_name"`
	Surname   string `json:"surname"`
	Room      string `json:"room"`
}

// RevertRequest identifies the checkout shown on the confirmation page.
type RevertRequest struct {
	TransactionID int64  `json:"transaction_id,string"`
	RemovalKey    string `json:"removal_key"`
}

// CheckinRequest carries the selected transaction ids.
type CheckinRequest struct {
	TransactionIDs []string `json:"checkin_ids"`
}

// ConfirmDeleteRequest names the user to delete.
type ConfirmDeleteRequest struct {
	NFCID string `json:"nfc_id"`
}

type sessionHandler func(r *http.Request, id *identity.Cache) (int, Response)

func (h *Handler) withSession(fn sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Get(r, SessionName)
		if err != nil {
			h.logger.Debugw("starting new session", "err", err)
		}
		sid, _ := sess.Values["sid"].(string)
		if sid == "" {
			sid = utilities.NewKSUID()
			sess.Values["sid"] = sid
		}
		cache := identity.NewCache(sess.Values, h.resolver, h.logger.With("sid", sid))
		status, body := fn(r, cache)
		if err := sess.Save(r, w); err != nil {
			h.logger.Warnw("session save failed", "sid", sid, "err", err)
		}
		h.writeJSON(w, status, body)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotRegistered), errors.Is(err, ErrNoAdminPrivilege),
		errors.Is(err, ErrDemotion), errors.Is(err, ErrSelfDeletion):
		return http.StatusForbidden
	case errors.Is(err, ErrInputError):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrTransactionsRemain),
		errors.Is(err, ErrRevertFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(err error) (int, Response) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorw("rental request failed", "err", err)
	} else {
		h.logger.Infow("rental request rejected", "outcome", Outcome(err), "err", err)
	}
	return status, Response{Outcome: Outcome(err), Error: err.Error()}
}

func success(info string, data any) (int, Response) {
	return http.StatusOK, Response{Outcome: Outcome(nil), Info: info, Data: data}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInputError, err)
	}
	return nil
}

func parseIDs(raw []string) []int64 {
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (h *Handler) info(r *http.Request, id *identity.Cache) string {
	line, err := h.svc.IdentityInfo(r.Context(), id)
	if err != nil {
		return Outcome(err)
	}
	return line
}

// Index lists all open loans and starts a new interaction.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		return success("", h.svc.Overview(r.Context(), id))
	})(w, r)
}

// ClearNFCCache forgets the session identity.
func (h *Handler) ClearNFCCache(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		id.Invalidate()
		return success("", nil)
	})(w, r)
}

func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		nfcID, err := h.svc.RegistrationTarget(r.Context(), id)
		if err != nil {
			return h.fail(err)
		}
		return success("", map[string]string{"nfc_id": nfcID})
	})(w, r)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var req RegisterRequest
		if err := decode(r, &req); err != nil {
			return h.fail(err)
		}
		u, err := h.svc.Register(r.Context(), id, req.GivenName, req.Surname, req.Room)
		if err != nil {
			return h.fail(err)
		}
		_, body := success(h.svc.DescribeUser(u), u)
		return http.StatusCreated, body
	})(w, r)
}

func (h *Handler) CheckoutPage(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		u, err := h.svc.CheckoutPage(r.Context(), id)
		if err != nil {
			return h.fail(err)
		}
		return success(h.svc.DescribeUser(u), u)
	})(w, r)
}

func (h *Handler) FinishCheckout(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		c, err := h.svc.FinishCheckout(r.Context(), id)
		if err != nil {
			return h.fail(err)
		}
		_, body := success(h.svc.DescribeUser(&c.User), c)
		return http.StatusCreated, body
	})(w, r)
}

func (h *Handler) RevertCheckout(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var req RevertRequest
		if err := decode(r, &req); err != nil {
			return h.fail(err)
		}
		if err := h.svc.RevertCheckout(r.Context(), req.TransactionID, req.RemovalKey); err != nil {
			return h.fail(err)
		}
		return success("", nil)
	})(w, r)
}

func (h *Handler) CheckinList(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		txs, err := h.svc.CheckinList(r.Context(), id)
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), txs)
	})(w, r)
}

func (h *Handler) Checkin(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var req CheckinRequest
		if err := decode(r, &req); err != nil {
			return h.fail(err)
		}
		res, err := h.svc.Checkin(r.Context(), id, parseIDs(req.TransactionIDs))
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), res)
	})(w, r)
}

func (h *Handler) AdminUsers(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		list, err := h.svc.AdminUsers(r.Context(), id)
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), list)
	})(w, r)
}

func (h *Handler) AdminUser(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		u, err := h.svc.AdminUser(r.Context(), id, r.URL.Query().Get("nfc_id"))
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), u)
	})(w, r)
}

func (h *Handler) ChangeUser(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var form UserForm
		if err := decode(r, &form); err != nil {
			return h.fail(err)
		}
		if err := h.svc.ChangeUser(r.Context(), id, form); err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), form)
	})(w, r)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var form UserForm
		if err := decode(r, &form); err != nil {
			return h.fail(err)
		}
		pending, err := h.svc.RequestDeleteUser(r.Context(), id, form)
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), pending)
	})(w, r)
}

func (h *Handler) ConfirmDeleteUser(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var req ConfirmDeleteRequest
		if err := decode(r, &req); err != nil {
			return h.fail(err)
		}
		if err := h.svc.ConfirmDeleteUser(r.Context(), id, req.NFCID); err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), nil)
	})(w, r)
}

func (h *Handler) AdminTransactions(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		o, err := h.svc.AdminTransactions(r.Context(), id, r.URL.Query().Get("nfc_id"))
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), o)
	})(w, r)
}

func (h *Handler) AdminCheckin(w http.ResponseWriter, r *http.Request) {
	h.withSession(func(r *http.Request, id *identity.Cache) (int, Response) {
		var req CheckinRequest
		if err := decode(r, &req); err != nil {
			return h.fail(err)
		}
		res, err := h.svc.AdminCheckin(r.Context(), id, r.URL.Query().Get("nfc_id"), parseIDs(req.TransactionIDs))
		if err != nil {
			return h.fail(err)
		}
		return success(h.info(r, id), res)
	})(w, r)
}
