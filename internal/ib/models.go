package ib

import (
	"time"

	"gorm.io/gorm"
)

// Application states
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Application is an introducing-broker onboarding request. Once approved it
// carries the referral code clients use at signup.
type Application struct {
	gorm.Model `json:"-"`
	Email      string `gorm:"uniqueIndex" json:"email"`

	ExistingClientBase       string  `json:"existing_client_base"` // Yes or No
	OffersEducation          string  `json:"offers_education"`     // Yes or No
	ExpectedClients          string  `json:"expected_clients"`     // 0-10, 10-50, 50-100, 100+
	ExpectedCommissionDirect string  `json:"expected_commission_direct"`
	ExpectedCommissionSubIB  string  `json:"expected_commission_sub_ib"`
	YourShare                float64 `json:"your_share"`
	ClientShare              float64 `json:"client_share"`

	Status       string `gorm:"default:pending" json:"status"`
	ReferralCode string `gorm:"index" json:"referral_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
