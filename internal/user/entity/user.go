package entity

// User represents a registered badge holder in the `users` table.
// Timestamps are seconds since the Unix epoch.
type User struct {
	NFCID          string `db:"nfc_id" json:"nfc_id"`
	GivenName      string `db:"given_name" json:"given_name"`
	Surname        string `db:"surname" json:"surname"`
	Room           string `db:"room" json:"room"`
	Admin          bool   `db:"admin" json:"admin"`
	DateRegistered int64  `db:"date_registered" json:"date_registered"`
	LastAccess     int64  `db:"last_access" json:"last_access"`
}

// Summary is a user together with the number of tools still checked out.
type Summary struct {
	User
	Transactions int `json:"transactions"`
}
