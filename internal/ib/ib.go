package ib

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/commission"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyRequested = errors.New("IB request already submitted")
	ErrNotFound         = errors.New("IB request not found")
	ErrNotApproved      = errors.New("IB is not approved")
)

// users is the slice of the identity store the IB workflow needs.
type users interface {
	GetUserByEmail(email string) (*identity.User, error)
	UpdateUser(user *identity.User) error
}

// Service manages introducing-broker applications and fronts the commission
// engine for IB-facing commission operations.
type Service struct {
	db         *Database
	users      users
	notifier   notify.Sender
	adminEmail string
}

func NewService(gormDB *gorm.DB, userStore users, notifier notify.Sender, adminEmail string) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		users:      userStore,
		notifier:   notifier,
		adminEmail: adminEmail,
	}
}

// Register files a new IB application for an existing user. Duplicate
// applications for the same email are rejected.
func (s *Service) Register(app *Application) error {
	user, err := s.users.GetUserByEmail(app.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	existing, err := s.db.GetApplicationByEmail(app.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRequested
	}

	app.Status = StatusPending
	if err := s.db.CreateApplication(app); err != nil {
		return err
	}

	notify.BestEffort(s.notifier, s.adminEmail,
		"New IB Request Submitted",
		fmt.Sprintf("%s (%s) has applied to become an introducing broker. Review in the admin dashboard.", user.FullName, app.Email))
	return nil
}

// Approve marks a pending application approved, mints the referral code and
// flags the user as an approved IB.
func (s *Service) Approve(email string) (string, error) {
	app, err := s.db.GetApplicationByEmail(email)
	if err != nil {
		return "", err
	}
	if app == nil {
		return "", ErrNotFound
	}

	code, err := s.mintReferralCode()
	if err != nil {
		return "", err
	}
	app.Status = StatusApproved
	app.ReferralCode = code
	if err := s.db.UpdateApplication(app); err != nil {
		return "", err
	}

	user, err := s.users.GetUserByEmail(email)
	if err != nil {
		return "", err
	}
	if user != nil {
		user.IsApprovedIB = true
		if err := s.users.UpdateUser(user); err != nil {
			return "", err
		}
		notify.BestEffort(s.notifier, user.Email,
			"Your Introducing Broker Application Approved",
			fmt.Sprintf("Congratulations %s, your IB application is approved. Your referral key is %s.", user.FullName, app.ReferralCode))
	}

	log.Info().
		Str("email", email).
		Str("referral_code", app.ReferralCode).
		Msg("IB application approved")

	return app.ReferralCode, nil
}

// Reject marks an application rejected and notifies the applicant.
func (s *Service) Reject(email string) error {
	app, err := s.db.GetApplicationByEmail(email)
	if err != nil {
		return err
	}
	if app == nil {
		return ErrNotFound
	}

	app.Status = StatusRejected
	if err := s.db.UpdateApplication(app); err != nil {
		return err
	}

	if user, err := s.users.GetUserByEmail(email); err == nil && user != nil {
		notify.BestEffort(s.notifier, user.Email,
			"Your Introducing Broker Application Rejected",
			fmt.Sprintf("Dear %s, your IB application was rejected. Contact support to reapply.", user.FullName))
	}
	return nil
}

// ReferralCodeForEmail resolves an approved IB's referral code. Implements
// the commission engine's referral resolution.
func (s *Service) ReferralCodeForEmail(email string) (string, error) {
	app, err := s.db.GetApplicationByEmail(email)
	if err != nil {
		return "", err
	}
	if app == nil {
		return "", ErrNotFound
	}
	if app.Status != StatusApproved || app.ReferralCode == "" {
		return "", ErrNotApproved
	}
	return app.ReferralCode, nil
}

func newReferralCode() string {
	return "IB" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
}

// mintReferralCode generates a referral code that no existing application holds.
func (s *Service) mintReferralCode() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code := newReferralCode()
		existing, err := s.db.GetApplicationByReferralCode(code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to mint a unique referral code")
}

// GinHandlers contains HTTP handlers for IB endpoints
type GinHandlers struct {
	service     *Service
	commissions *commission.Service
}

func NewGinHandlers(service *Service, commissions *commission.Service) *GinHandlers {
	return &GinHandlers{service: service, commissions: commissions}
}

// RegisterHandler handles POST requests to file an IB application
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var app Application
		if err := c.ShouldBindJSON(&app); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if app.Email == "" {
			response.BadRequest(c, "email is required")
			return
		}

		err := h.service.Register(&app)
		switch {
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrAlreadyRequested):
			response.Conflict(c, err.Error())
		default:
			response.Handle(c, app, err)
		}
	}
}

// ListHandler handles GET requests for all IB applications
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		apps, err := h.service.db.GetApplications()
		response.Handle(c, apps, err)
	}
}

// ApproveHandler handles admin approval of IB applications
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		code, err := h.service.Approve(email)
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"message": "IB approved successfully", "referral_code": code}, err)
	}
}

// RejectHandler handles admin rejection of IB applications
func (h *GinHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		err := h.service.Reject(email)
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"message": "IB rejected successfully"}, err)
	}
}

// ReferralCodeHandler handles GET requests for an IB's referral code
func (h *GinHandlers) ReferralCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		code, err := h.service.ReferralCodeForEmail(email)
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrNotApproved):
			response.Conflict(c, err.Error())
		default:
			response.Handle(c, gin.H{"referral_code": code}, err)
		}
	}
}

// UpdateCommissionHandler recomputes an IB's commission over a date range
func (h *GinHandlers) UpdateCommissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Email string `json:"email" binding:"required"`
			Start string `json:"start_date" binding:"required"`
			End   string `json:"end_date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		start, err := time.Parse("2006-01-02", request.Start)
		if err != nil {
			response.BadRequest(c, "start_date must be YYYY-MM-DD")
			return
		}
		end, err := time.Parse("2006-01-02", request.End)
		if err != nil {
			response.BadRequest(c, "end_date must be YYYY-MM-DD")
			return
		}

		summary, err := h.commissions.UpdateIBCommission(c.Request.Context(), request.Email, start, end)
		switch {
		case errors.Is(err, commission.ErrIBNotFound), errors.Is(err, ErrNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrNotApproved):
			response.Conflict(c, err.Error())
		default:
			response.Handle(c, summary, err)
		}
	}
}

// WithdrawCommissionHandler pays out accrued commission to the IB's account
func (h *GinHandlers) WithdrawCommissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Email  string  `json:"email" binding:"required"`
			Amount float64 `json:"amount" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.commissions.WithdrawCommission(c.Request.Context(), request.Email, request.Amount)
		switch {
		case errors.Is(err, commission.ErrIBNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, commission.ErrBelowMinimum),
			errors.Is(err, commission.ErrInsufficientAccrual),
			errors.Is(err, commission.ErrNoTradingAccount):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, gin.H{"message": "commission withdrawal processed"}, err)
		}
	}
}
