package withdrawals

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRejected  = "REJECTED"
)

// Withdrawal is one client bank-withdrawal request. The trading account is
// debited when the request is recorded; Status tracks the payout verdict.
// AmountINR is what the bank pays out, AmountUSD is what the trading account
// was debited.
type Withdrawal struct {
	gorm.Model
	WithdrawalID   string  `gorm:"uniqueIndex" json:"withdrawal_id"`
	OrderID        string  `gorm:"uniqueIndex" json:"order_id"`
	AccountNo      string  `gorm:"index" json:"account_no"`
	BankAccount    string  `json:"bank_account"`
	IFSC           string  `json:"ifsc"`
	Beneficiary    string  `json:"beneficiary"`
	Mobile         string  `json:"mobile"`
	Note           string  `json:"note"`
	AmountINR      float64 `json:"amount_inr"`
	AmountUSD      float64 `json:"amount_usd"`
	RefundOrderID  string  `json:"refund_order_id,omitempty"`
	Status         string  `gorm:"index;default:PENDING" json:"status"`
	VendorResponse string  `gorm:"type:text" json:"vendor_response,omitempty"`
}

func newWithdrawalID() string {
	return fmt.Sprintf("WD_%s", uuid.New().String())
}
