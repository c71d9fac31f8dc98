package entity

// Transaction is one checked-out tool. The row exists exactly as long as the
// tool has not been returned.
type Transaction struct {
	// ID is a snowflake id; encoded as a JSON string to survive
	// float64 number handling in browsers.
	ID              int64  `db:"transaction_id" json:"transaction_id,string"`
	NFCID           string `db:"nfc_id" json:"nfc_id"`
	TransactionTime int64  `db:"transaction_time" json:"transaction_time"`
	RemovalKey      string `db:"removal_key" json:"removal_key"`
	Image           []byte `db:"image" json:"image"`
}
