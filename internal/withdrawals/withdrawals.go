package withdrawals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/gateway"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrOpenPositions      = errors.New("withdrawal blocked: account has open positions")
	ErrInsufficientFunds  = errors.New("insufficient account balance")
	ErrAlreadyResolved    = errors.New("withdrawal already resolved")
)

type accountResolver interface {
	GetAccount(accountNo string) (*identity.Account, error)
}

type ledger interface {
	CheckBalance(ctx context.Context, accountNo string) (*balance.AccountSummary, error)
	AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error
}

type payoutDispatcher interface {
	Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error)
}

type fxConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal) decimal.Decimal
}

// Service orchestrates bank withdrawals: margin gate, pre-debit of the
// trading account, payout dispatch and refunds on failure.
type Service struct {
	db         *Database
	accounts   accountResolver
	ledger     ledger
	payouts    payoutDispatcher
	fx         fxConverter
	notifier   notify.Sender
	adminEmail string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(gormDB *gorm.DB, accounts accountResolver, ledger ledger, payouts payoutDispatcher, fx fxConverter, notifier notify.Sender, adminEmail string) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		accounts:   accounts,
		ledger:     ledger,
		payouts:    payouts,
		fx:         fx,
		notifier:   notifier,
		adminEmail: adminEmail,
		locks:      make(map[string]*sync.Mutex),
	}
}

// accountLock serializes withdrawal mutations per account so concurrent
// requests cannot both pass the balance check before either debit lands.
func (s *Service) accountLock(accountNo string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountNo]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountNo] = lock
	}
	return lock
}

// Request is a client's withdrawal submission.
type Request struct {
	AccountNo   string  `json:"account_no" binding:"required"`
	BankAccount string  `json:"bank_account" binding:"required"`
	IFSC        string  `json:"ifsc" binding:"required"`
	Beneficiary string  `json:"beneficiary" binding:"required"`
	Mobile      string  `json:"mobile" binding:"required"`
	AmountINR   float64 `json:"amount_inr" binding:"required,gt=0"`
	Note        string  `json:"note"`
}

// Submit records a withdrawal and debits the trading account up front. The
// account must carry no margin: open positions block the request before any
// record or debit is made. The pending record is written before the debit so
// a crash between the two leaves an auditable trail rather than a silent
// missing debit.
func (s *Service) Submit(ctx context.Context, req Request) (*Withdrawal, error) {
	lock := s.accountLock(req.AccountNo)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.accounts.GetAccount(req.AccountNo)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	summary, err := s.ledger.CheckBalance(ctx, req.AccountNo)
	if err != nil {
		return nil, err
	}
	if summary.Margin.IsPositive() {
		return nil, ErrOpenPositions
	}

	amountUSD := s.fx.Convert(ctx, decimal.NewFromFloat(req.AmountINR))
	if summary.Balance.LessThan(amountUSD) {
		return nil, ErrInsufficientFunds
	}

	w := &Withdrawal{
		WithdrawalID: newWithdrawalID(),
		OrderID:      orders.NewOrderID(orders.PrefixWithdrawal),
		AccountNo:    req.AccountNo,
		BankAccount:  req.BankAccount,
		IFSC:         req.IFSC,
		Beneficiary:  req.Beneficiary,
		Mobile:       req.Mobile,
		Note:         req.Note,
		AmountINR:    req.AmountINR,
		AmountUSD:    amountUSD.InexactFloat64(),
		Status:       StatusPending,
	}
	if err := s.db.CreateWithdrawal(w); err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	if err := s.ledger.AdjustBalance(ctx, req.AccountNo, amountUSD.Neg(), w.OrderID); err != nil {
		if _, rerr := s.db.Resolve(w.WithdrawalID, StatusFailed, "", "debit failed: "+err.Error()); rerr != nil {
			log.Error().Err(rerr).Str("withdrawal_id", w.WithdrawalID).Msg("failed to mark withdrawal failed after debit error")
		}
		return nil, err
	}

	log.Info().
		Str("withdrawal_id", w.WithdrawalID).
		Str("order_id", w.OrderID).
		Str("account_no", w.AccountNo).
		Float64("amount_inr", w.AmountINR).
		Float64("amount_usd", w.AmountUSD).
		Msg("withdrawal recorded and account debited")

	notify.BestEffort(s.notifier, s.adminEmail,
		"Withdrawal Request Pending Review",
		fmt.Sprintf("Withdrawal %s for account %s: INR %.2f (USD %.2f debited). Approve or reject in the admin dashboard.",
			w.WithdrawalID, w.AccountNo, w.AmountINR, w.AmountUSD))

	return w, nil
}

// Approve dispatches the bank payout for a pending withdrawal. A vendor
// failure refunds the debited amount and marks the withdrawal failed; a
// transport failure leaves it pending for retry.
func (s *Service) Approve(ctx context.Context, withdrawalID string) (*Withdrawal, error) {
	w, lock, err := s.lockPending(withdrawalID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	result, err := s.payouts.Payout(ctx, gateway.PayoutRequest{
		Account: w.BankAccount,
		IFSC:    w.IFSC,
		Name:    w.Beneficiary,
		Mobile:  w.Mobile,
		Amount:  fmt.Sprintf("%.2f", w.AmountINR),
		Note:    w.Note,
		OrderID: w.OrderID,
	})
	if err != nil {
		// Transport failure: payout may or may not have landed, keep the
		// withdrawal pending for manual retry rather than refunding blind.
		return nil, err
	}

	vendorJSON := marshalVendorResponse(result.Raw)
	if !result.Success {
		return s.failAndRefund(ctx, w, StatusFailed, vendorJSON, result.Message)
	}

	alreadyFinal, err := s.db.Resolve(w.WithdrawalID, StatusCompleted, "", vendorJSON)
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		return nil, ErrAlreadyResolved
	}
	w.Status = StatusCompleted
	w.VendorResponse = vendorJSON

	log.Info().
		Str("withdrawal_id", w.WithdrawalID).
		Str("account_no", w.AccountNo).
		Float64("amount_inr", w.AmountINR).
		Msg("withdrawal payout completed")

	s.notifyAccountHolder(w, "Withdrawal Processed",
		fmt.Sprintf("Your withdrawal of INR %.2f has been paid out to account %s.", w.AmountINR, w.BankAccount))

	return w, nil
}

// Reject refunds the debited amount and closes a pending withdrawal without
// dispatching a payout.
func (s *Service) Reject(ctx context.Context, withdrawalID, reason string) (*Withdrawal, error) {
	w, lock, err := s.lockPending(withdrawalID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	return s.failAndRefund(ctx, w, StatusRejected, "", reason)
}

// lockPending resolves a withdrawal, acquires its account lock and verifies
// it is still pending once the lock is held. A resolution that landed while
// the caller waited on the lock surfaces as ErrAlreadyResolved with no
// ledger mutation. On success the lock is held; the caller must unlock it.
func (s *Service) lockPending(withdrawalID string) (*Withdrawal, *sync.Mutex, error) {
	w, err := s.db.GetWithdrawal(withdrawalID)
	if err != nil {
		return nil, nil, err
	}
	if w == nil {
		return nil, nil, ErrWithdrawalNotFound
	}
	if w.Status != StatusPending {
		return nil, nil, ErrAlreadyResolved
	}

	lock := s.accountLock(w.AccountNo)
	lock.Lock()

	// Re-read under the lock: a concurrent resolution may have finished
	// while we waited.
	w, err = s.db.GetWithdrawal(withdrawalID)
	switch {
	case err != nil:
		lock.Unlock()
		return nil, nil, err
	case w == nil:
		lock.Unlock()
		return nil, nil, ErrWithdrawalNotFound
	case w.Status != StatusPending:
		lock.Unlock()
		return nil, nil, ErrAlreadyResolved
	}
	return w, lock, nil
}

func (s *Service) failAndRefund(ctx context.Context, w *Withdrawal, status, vendorJSON, reason string) (*Withdrawal, error) {
	refundOrderID := orders.NewOrderID(orders.PrefixRefund)
	amount := decimal.NewFromFloat(w.AmountUSD)
	if err := s.ledger.AdjustBalance(ctx, w.AccountNo, amount, refundOrderID); err != nil {
		// Leave the withdrawal pending: closing it without the refund would
		// strand the client's funds.
		log.Error().Err(err).
			Str("withdrawal_id", w.WithdrawalID).
			Str("refund_order_id", refundOrderID).
			Msg("refund credit failed, withdrawal left pending")
		return nil, err
	}

	alreadyFinal, err := s.db.Resolve(w.WithdrawalID, status, refundOrderID, vendorJSON)
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		return nil, ErrAlreadyResolved
	}
	w.Status = status
	w.RefundOrderID = refundOrderID
	w.VendorResponse = vendorJSON

	log.Info().
		Str("withdrawal_id", w.WithdrawalID).
		Str("status", status).
		Str("refund_order_id", refundOrderID).
		Str("reason", reason).
		Msg("withdrawal closed and account refunded")

	s.notifyAccountHolder(w, "Withdrawal Not Processed",
		fmt.Sprintf("Your withdrawal of INR %.2f was not processed and USD %.2f has been returned to your trading account. %s",
			w.AmountINR, w.AmountUSD, reason))

	return w, nil
}

func (s *Service) notifyAccountHolder(w *Withdrawal, subject, body string) {
	account, err := s.accounts.GetAccount(w.AccountNo)
	if err != nil || account == nil || account.User == nil || account.User.Email == "" {
		return
	}
	notify.BestEffort(s.notifier, account.User.Email, subject, body)
}

func marshalVendorResponse(raw map[string]interface{}) string {
	if raw == nil {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(data)
}

// GinHandlers contains HTTP handlers for withdrawal endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SubmitHandler handles client withdrawal requests
func (h *GinHandlers) SubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		w, err := h.service.Submit(c.Request.Context(), req)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrOpenPositions), errors.Is(err, ErrInsufficientFunds):
			response.BadRequest(c, err.Error())
		case errors.Is(err, balance.ErrExternalService):
			response.BadGateway(c, err.Error())
		default:
			response.Handle(c, w, err)
		}
	}
}

// ApproveHandler handles admin approval of a pending withdrawal
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		withdrawalID := c.Param("withdrawal_id")
		w, err := h.service.Approve(c.Request.Context(), withdrawalID)
		h.handleResolution(c, w, err)
	}
}

// RejectHandler handles admin rejection of a pending withdrawal
func (h *GinHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		withdrawalID := c.Param("withdrawal_id")
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)

		w, err := h.service.Reject(c.Request.Context(), withdrawalID, body.Reason)
		h.handleResolution(c, w, err)
	}
}

func (h *GinHandlers) handleResolution(c *gin.Context, w *Withdrawal, err error) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAlreadyResolved):
		response.Conflict(c, err.Error())
	case errors.Is(err, gateway.ErrGatewayUnavailable), errors.Is(err, balance.ErrExternalService):
		response.BadGateway(c, err.Error())
	default:
		response.Handle(c, w, err)
	}
}

// ListPendingHandler handles GET requests for withdrawals awaiting review
func (h *GinHandlers) ListPendingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.db.GetPendingWithdrawals()
		response.Handle(c, list, err)
	}
}

// ListAllHandler handles GET requests for the full withdrawal history
func (h *GinHandlers) ListAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}

		list, err := h.service.db.GetWithdrawals(limit, offset)
		response.Handle(c, gin.H{"count": len(list), "withdrawals": list}, err)
	}
}

// ListByAccountHandler handles GET requests for one account's withdrawals
func (h *GinHandlers) ListByAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountNo := c.Param("account_no")
		list, err := h.service.db.GetWithdrawalsByAccount(accountNo)
		response.Handle(c, list, err)
	}
}
