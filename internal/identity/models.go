package identity

import (
	"time"

	"gorm.io/gorm"
)

// Bank approval states
const (
	BankApprovalPending  = "pending"
	BankApprovalApproved = "approved"
	BankApprovalRejected = "rejected"
)

// User is an onboarded platform user. Bank details move through a pending ->
// approved/rejected workflow: the live fields only change on admin approval.
type User struct {
	gorm.Model `json:"-"`
	FullName   string `json:"full_name"`
	Email      string `gorm:"uniqueIndex" json:"email"`
	Phone      string `gorm:"uniqueIndex" json:"phone"`

	// Referral code entered at signup; matches an approved IB's code.
	ReferralCode string `gorm:"index" json:"referral_code"`

	IsApprovedIB      bool    `json:"is_approved_ib"`
	CommissionBalance float64 `json:"commission_balance"`

	// Approved bank details used for payouts.
	AccountHolderName string `json:"account_holder_name"`
	AccountNumber     string `json:"account_number"`
	IFSCCode          string `json:"ifsc_code"`
	BankName          string `json:"bank_name"`

	// Pending bank details awaiting admin review.
	PendingAccountHolderName string `json:"-"`
	PendingAccountNumber     string `json:"-"`
	PendingIFSCCode          string `json:"-"`
	PendingBankName          string `json:"-"`
	BankApprovalStatus       string `gorm:"default:approved" json:"bank_approval_status"`

	HasSubmittedDocuments bool `json:"has_submitted_documents"`
	IsKYCVerified         bool `json:"is_kyc_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account is a trading account provisioned on the external ledger and linked
// to a platform user. AccountNo is the vendor-assigned identifier every
// monetary operation keys on.
type Account struct {
	gorm.Model  `json:"-"`
	UserID      uint   `gorm:"index" json:"user_id"`
	AccountNo   string `gorm:"uniqueIndex" json:"account_no"`
	Currency    string `json:"currency"`
	AccountType string `json:"account_type"` // LIVE or DEMO
	UserType    string `json:"user_type"`    // CLIENT or ADMIN

	// Referral code recorded at provisioning time.
	ReferralCode string `json:"referral_code"`

	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
