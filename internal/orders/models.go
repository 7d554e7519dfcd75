package orders

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Order statuses
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Order id prefixes; prefix + 13-digit unix-millis keeps every id within the
// vendor's 16-character limit.
const (
	PrefixHostedDeposit = "ODP"
	PrefixLegacyDeposit = "ORP"
	PrefixCryptoDeposit = "OCP"
	PrefixWithdrawal    = "WDR"
	PrefixRefund        = "RF"
)

// Order is a monetary deposit intent. The record is durably committed before
// any outbound gateway call so a crash mid-flight leaves a recoverable
// PENDING entry rather than a lost payment.
type Order struct {
	gorm.Model `json:"-"`
	OrderID    string    `gorm:"uniqueIndex" json:"order_id"`
	AccountNo  string    `gorm:"index" json:"account_no"`
	AccountRef uint      `json:"account_ref"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"` // PENDING, SUCCESS, FAILED
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewOrderID builds a vendor-safe order id: prefix plus unix milliseconds.
func NewOrderID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixMilli())
}
