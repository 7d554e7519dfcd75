package payments

import "gorm.io/gorm"

const (
	CreditRecorded = "RECORDED"
	CreditApplied  = "BALANCE_CREDITED"
	CreditFailed   = "CREDIT_FAILED"
)

// Transaction is one gateway callback receipt. Rows are written once and
// never mutated except for the credit bookkeeping columns; the unique index
// on VendorTxnID is what makes replayed callbacks harmless.
type Transaction struct {
	gorm.Model
	VendorTxnID   string  `gorm:"uniqueIndex" json:"vendor_transaction_id"`
	OrderID       string  `gorm:"index" json:"order_id,omitempty"`
	AccountNo     string  `gorm:"index" json:"account_no,omitempty"`
	Source        string  `json:"source"`
	VendorStatus  string  `json:"vendor_status"`
	AmountINR     float64 `json:"amount_inr"`
	AmountUSD     float64 `json:"amount_usd"`
	CreditStatus  string  `gorm:"index" json:"credit_status"`
	CreditOrderID string  `json:"credit_order_id,omitempty"`
	Payload       string  `gorm:"type:text" json:"-"`
}

const (
	SourceHosted = "hosted"
	SourceLegacy = "legacy"
	SourceCrypto = "crypto"
)
