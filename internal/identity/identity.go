package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrNothingPending  = errors.New("no pending bank details")
	ErrEmailTaken      = errors.New("email already registered")
	ErrPhoneTaken      = errors.New("phone number already registered")
)

// provisioner is the slice of the balance provider used to create and
// maintain accounts.
type provisioner interface {
	RegisterAccount(ctx context.Context, req balance.RegisterRequest) (string, error)
	ChangePassword(ctx context.Context, accountNo, newPassword string) error
}

// Service manages users and their trading accounts. The OTP/email
// verification machinery for registration lives outside this repo; users
// arrive here already verified.
type Service struct {
	db       *Database
	provider provisioner
	notifier notify.Sender
}

func NewService(gormDB *gorm.DB, provider provisioner, notifier notify.Sender) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		provider: provider,
		notifier: notifier,
	}
}

// DB exposes the identity database for sibling services that resolve users
// and accounts.
func (s *Service) DB() *Database {
	return s.db
}

// CreateUser records a verified user. Email and phone must both be unused;
// the lookups give a readable error before the unique indexes would.
func (s *Service) CreateUser(user *User) error {
	if user.Email == "" || user.Phone == "" || user.FullName == "" {
		return errors.New("full name, email and phone are required")
	}

	if existing, err := s.db.GetUserByEmail(user.Email); err != nil {
		return err
	} else if existing != nil {
		return ErrEmailTaken
	}
	if existing, err := s.db.GetUserByPhone(user.Phone); err != nil {
		return err
	} else if existing != nil {
		return ErrPhoneTaken
	}

	if user.BankApprovalStatus == "" {
		user.BankApprovalStatus = BankApprovalApproved
	}
	return s.db.CreateUser(user)
}

// ProvisionAccount registers a trading account with the external ledger and
// persists the link to the user. The vendor assigns the account number.
func (s *Service) ProvisionAccount(ctx context.Context, email string, req balance.RegisterRequest) (*Account, error) {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	req.Email = email
	accountNo, err := s.provider.RegisterAccount(ctx, req)
	if err != nil {
		return nil, err
	}

	account := &Account{
		UserID:       user.ID,
		AccountNo:    accountNo,
		Currency:     req.Currency,
		AccountType:  req.Type,
		UserType:     req.UserType,
		ReferralCode: req.Referral,
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	log.Info().
		Str("account_no", accountNo).
		Str("email", email).
		Msg("trading account provisioned")

	return account, nil
}

// ChangeAccountPassword updates the vendor-side password for a trading
// account. The password lives with the vendor, not here.
func (s *Service) ChangeAccountPassword(ctx context.Context, accountNo, newPassword string) error {
	account, err := s.db.GetAccount(accountNo)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	return s.provider.ChangePassword(ctx, accountNo, newPassword)
}

// BankDetails is a user's payout destination.
type BankDetails struct {
	AccountHolderName string `json:"account_holder_name" binding:"required"`
	AccountNumber     string `json:"account_number" binding:"required"`
	IFSCCode          string `json:"ifsc_code" binding:"required"`
	BankName          string `json:"bank_name" binding:"required"`
}

// SubmitBankDetails stages new bank details for admin review. The live
// payout fields are untouched until approval.
func (s *Service) SubmitBankDetails(email string, details BankDetails) error {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	user.PendingAccountHolderName = details.AccountHolderName
	user.PendingAccountNumber = details.AccountNumber
	user.PendingIFSCCode = details.IFSCCode
	user.PendingBankName = details.BankName
	user.BankApprovalStatus = BankApprovalPending
	return s.db.UpdateUser(user)
}

// ApproveBankDetails promotes pending bank details to the live payout fields.
func (s *Service) ApproveBankDetails(email string) error {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.BankApprovalStatus != BankApprovalPending {
		return ErrNothingPending
	}

	user.AccountHolderName = user.PendingAccountHolderName
	user.AccountNumber = user.PendingAccountNumber
	user.IFSCCode = user.PendingIFSCCode
	user.BankName = user.PendingBankName
	user.PendingAccountHolderName = ""
	user.PendingAccountNumber = ""
	user.PendingIFSCCode = ""
	user.PendingBankName = ""
	user.BankApprovalStatus = BankApprovalApproved
	if err := s.db.UpdateUser(user); err != nil {
		return err
	}

	notify.BestEffort(s.notifier, user.Email,
		"Bank Details Approved",
		fmt.Sprintf("Dear %s, your bank details have been approved and will be used for future withdrawals.", user.FullName))
	return nil
}

// RejectBankDetails discards the pending submission.
func (s *Service) RejectBankDetails(email string) error {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.BankApprovalStatus != BankApprovalPending {
		return ErrNothingPending
	}

	user.PendingAccountHolderName = ""
	user.PendingAccountNumber = ""
	user.PendingIFSCCode = ""
	user.PendingBankName = ""
	user.BankApprovalStatus = BankApprovalRejected
	if err := s.db.UpdateUser(user); err != nil {
		return err
	}

	notify.BestEffort(s.notifier, user.Email,
		"Bank Details Rejected",
		fmt.Sprintf("Dear %s, your submitted bank details were rejected. Please contact support.", user.FullName))
	return nil
}

// ApproveKYC flags a user's submitted documents as verified.
func (s *Service) ApproveKYC(email string) error {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	user.IsKYCVerified = true
	return s.db.UpdateUser(user)
}

// GinHandlers contains HTTP handlers for identity endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateUserHandler handles POST requests to record a verified user
func (h *GinHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var user User
		if err := c.ShouldBindJSON(&user); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		err := h.service.CreateUser(&user)
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrPhoneTaken):
			response.Conflict(c, err.Error())
		case err != nil:
			response.BadRequest(c, err.Error())
		default:
			response.Success(c, user)
		}
	}
}

// ProvisionAccountHandler handles POST requests to create a trading account
// against the external ledger
func (h *GinHandlers) ProvisionAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Email    string `json:"email" binding:"required"`
			Currency string `json:"curr" binding:"required"`
			Type     string `json:"actype"`
			UserType string `json:"Utype"`
			Referral string `json:"Ref"`
			Password string `json:"Password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.ProvisionAccount(c.Request.Context(), request.Email, balance.RegisterRequest{
			Currency: request.Currency,
			Type:     request.Type,
			UserType: request.UserType,
			Referral: request.Referral,
			Password: request.Password,
		})
		switch {
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, balance.ErrExternalService):
			response.BadGateway(c, err.Error())
		default:
			response.Handle(c, account, err)
		}
	}
}

// ChangePasswordHandler handles POST requests to change a trading account's
// vendor-side password
func (h *GinHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			AccountNo   string `json:"account_no" binding:"required"`
			NewPassword string `json:"new_password" binding:"required,min=6"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.ChangeAccountPassword(c.Request.Context(), request.AccountNo, request.NewPassword)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, balance.ErrExternalService):
			response.BadGateway(c, err.Error())
		default:
			response.Handle(c, gin.H{"message": "password updated"}, err)
		}
	}
}

// SubmitBankDetailsHandler handles POST requests to stage bank details
func (h *GinHandlers) SubmitBankDetailsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Email string `json:"email" binding:"required"`
			BankDetails
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.SubmitBankDetails(request.Email, request.BankDetails)
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"message": "bank details submitted for review"}, err)
	}
}

// ApproveBankDetailsHandler handles admin approval of staged bank details
func (h *GinHandlers) ApproveBankDetailsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.bankReview(c, h.service.ApproveBankDetails, "bank details approved")
	}
}

// RejectBankDetailsHandler handles admin rejection of staged bank details
func (h *GinHandlers) RejectBankDetailsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.bankReview(c, h.service.RejectBankDetails, "bank details rejected")
	}
}

func (h *GinHandlers) bankReview(c *gin.Context, action func(string) error, message string) {
	email := c.Param("email")
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}

	err := action(email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNothingPending):
		response.Conflict(c, err.Error())
	default:
		response.Handle(c, gin.H{"message": message}, err)
	}
}

// ApproveKYCHandler handles admin KYC verification
func (h *GinHandlers) ApproveKYCHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		if email == "" {
			response.BadRequest(c, "email is required")
			return
		}

		err := h.service.ApproveKYC(email)
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"message": "KYC approved"}, err)
	}
}
