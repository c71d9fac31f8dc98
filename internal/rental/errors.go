package rental

import "errors"

var (
	ErrNoIdentity         = errors.New("no nfc tag")
	ErrNotRegistered      = errors.New("nfc tag not registered")
	ErrAlreadyRegistered  = errors.New("nfc tag already registered")
	ErrRegistrationFailed = errors.New("registration failed")
	ErrInputError         = errors.New("input error")
	ErrNoAdminPrivilege   = errors.New("admin privileges required")
	ErrDemotion           = errors.New("can't revoke own admin privileges")
	ErrSelfDeletion       = errors.New("can't delete own account")
	ErrTransactionsRemain = errors.New("user has open transactions")
	ErrUnknownUser        = errors.New("unknown user")
	ErrDatabaseIntegrity  = errors.New("database integrity check failed")
	ErrRevertFailed       = errors.New("failed to revert checkout")
)

var outcomes = []struct {
	err  error
	name string
}{
	{ErrNoIdentity, "no_nfc_tag"},
	{ErrNotRegistered, "unregistered"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrRegistrationFailed, "registration_failed"},
	{ErrInputError, "input_error"},
	{ErrNoAdminPrivilege, "no_admin"},
	{ErrDemotion, "demotion_error"},
	{ErrSelfDeletion, "self_deletion_error"},
	{ErrTransactionsRemain, "transactions_remain_error"},
	{ErrUnknownUser, "unknown_nfc_id"},
	{ErrDatabaseIntegrity, "db_integrity"},
	{ErrRevertFailed, "fail_revert"},
}

// Outcome names the result of an interaction for clients and metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.name
		}
	}
	return "error"
}
