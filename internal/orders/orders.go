package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/gateway"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

// hostedPayer is the slice of the legacy gateway that issues hosted payment
// pages.
type hostedPayer interface {
	GeneratePayin(ctx context.Context, amount int64, merchantTxnID, merchantUserID string) (*gateway.PayinResult, error)
}

// orderDispatcher submits an encrypted deposit order to a gateway.
type orderDispatcher interface {
	CreateOrder(ctx context.Context, orderID string, amount float64) (*gateway.OrderResult, error)
}

// accountResolver resolves trading accounts from the identity store.
type accountResolver interface {
	GetAccount(accountNo string) (*identity.Account, error)
}

// Service is the order ledger: it creates auditable deposit intents before
// any money moves and owns their status transitions.
type Service struct {
	db         *Database
	accounts   accountResolver
	legacy     hostedPayer
	legacyWire orderDispatcher
	crypto     orderDispatcher
}

func NewService(gormDB *gorm.DB, accounts accountResolver, legacy *gateway.LegacyClient, crypto *gateway.CryptoClient) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		accounts:   accounts,
		legacy:     legacy,
		legacyWire: legacy,
		crypto:     crypto,
	}
}

// CreateOrder persists a PENDING deposit intent. Callers must invoke this
// and see it succeed before dispatching anything to a gateway.
func (s *Service) CreateOrder(accountNo string, accountRef uint, amount float64, prefix string) (*Order, error) {
	order := &Order{
		OrderID:    NewOrderID(prefix),
		AccountNo:  accountNo,
		AccountRef: accountRef,
		Amount:     amount,
		Status:     StatusPending,
	}
	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// MarkResult moves an order to SUCCESS or FAILED. Duplicate calls for an
// order already in a terminal state are no-ops.
func (s *Service) MarkResult(orderID, status string) error {
	_, err := s.Finalize(orderID, status)
	return err
}

// Finalize is MarkResult with the transition outcome exposed: alreadyFinal
// is true when another caller finalized the order first, which settlement
// paths use to skip double-crediting.
func (s *Service) Finalize(orderID, status string) (alreadyFinal bool, err error) {
	if status != StatusSuccess && status != StatusFailed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	alreadyFinal, err = s.db.MarkResult(orderID, status)
	if err != nil {
		return false, err
	}
	if alreadyFinal {
		log.Info().
			Str("order_id", orderID).
			Str("status", status).
			Msg("duplicate result for finalized order ignored")
	}
	return alreadyFinal, nil
}

// GetOrder retrieves an order by its vendor-facing id.
func (s *Service) GetOrder(orderID string) (*Order, error) {
	return s.db.GetOrder(orderID)
}

// DepositResponse is returned to the client after a deposit is initiated.
type DepositResponse struct {
	Order      *Order                 `json:"order"`
	OwnerName  string                 `json:"owner_name"`
	PaymentURL string                 `json:"payment_url,omitempty"`
	VendorTxn  string                 `json:"vendor_transaction_id,omitempty"`
	Decrypted  map[string]interface{} `json:"decrypted,omitempty"`
}

// InitiateHostedDeposit creates a PENDING order, then asks the legacy
// gateway for a hosted payment page. Settlement arrives later through the
// raw transaction callback.
func (s *Service) InitiateHostedDeposit(ctx context.Context, accountNo string, amount float64) (*DepositResponse, error) {
	account, err := s.resolveAccount(accountNo)
	if err != nil {
		return nil, err
	}

	order, err := s.CreateOrder(accountNo, account.ID, amount, PrefixHostedDeposit)
	if err != nil {
		return nil, err
	}

	payin, err := s.legacy.GeneratePayin(ctx, int64(amount), order.OrderID, accountNo)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("account_no", accountNo).
		Float64("amount", amount).
		Msg("hosted deposit initiated")

	return &DepositResponse{
		Order:      order,
		OwnerName:  ownerName(account),
		PaymentURL: payin.PaymentURL,
		VendorTxn:  payin.TransactionID,
	}, nil
}

// InitiateLegacyDeposit creates a PENDING order and dispatches it over the
// legacy gateway's CBC wire. Settlement arrives through the encrypted
// callback keyed by the order id.
func (s *Service) InitiateLegacyDeposit(ctx context.Context, accountNo string, amount float64) (*DepositResponse, error) {
	return s.initiateWireDeposit(ctx, accountNo, amount, PrefixLegacyDeposit, s.legacyWire)
}

// InitiateCryptoDeposit is InitiateLegacyDeposit over the crypto gateway's
// GCM wire.
func (s *Service) InitiateCryptoDeposit(ctx context.Context, accountNo string, amount float64) (*DepositResponse, error) {
	return s.initiateWireDeposit(ctx, accountNo, amount, PrefixCryptoDeposit, s.crypto)
}

func (s *Service) initiateWireDeposit(ctx context.Context, accountNo string, amount float64, prefix string, dispatcher orderDispatcher) (*DepositResponse, error) {
	account, err := s.resolveAccount(accountNo)
	if err != nil {
		return nil, err
	}

	order, err := s.CreateOrder(accountNo, account.ID, amount, prefix)
	if err != nil {
		return nil, err
	}

	result, err := dispatcher.CreateOrder(ctx, order.OrderID, amount)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("account_no", accountNo).
		Float64("amount", amount).
		Msg("deposit order dispatched to gateway")

	return &DepositResponse{
		Order:     order,
		OwnerName: ownerName(account),
		Decrypted: result.Decrypted,
	}, nil
}

func (s *Service) resolveAccount(accountNo string) (*identity.Account, error) {
	account, err := s.accounts.GetAccount(accountNo)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func ownerName(account *identity.Account) string {
	if account.User != nil {
		return account.User.FullName
	}
	return "Unknown"
}

// GinHandlers contains HTTP handlers for deposit and order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type depositRequest struct {
	AccountNo string  `json:"account_no" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
}

// HostedDepositHandler handles POST requests for hosted-page deposits
func (h *GinHandlers) HostedDepositHandler() gin.HandlerFunc {
	return h.depositHandler(h.service.InitiateHostedDeposit)
}

// LegacyDepositHandler handles POST requests for CBC-wire deposits
func (h *GinHandlers) LegacyDepositHandler() gin.HandlerFunc {
	return h.depositHandler(h.service.InitiateLegacyDeposit)
}

// CryptoDepositHandler handles POST requests for GCM-wire deposits
func (h *GinHandlers) CryptoDepositHandler() gin.HandlerFunc {
	return h.depositHandler(h.service.InitiateCryptoDeposit)
}

func (h *GinHandlers) depositHandler(initiate func(context.Context, string, float64) (*DepositResponse, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := initiate(c.Request.Context(), req.AccountNo, req.Amount)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			response.BadGateway(c, err.Error())
		default:
			response.Handle(c, result, err)
		}
	}
}

// ListByAccountHandler handles GET requests for an account's deposit history
func (h *GinHandlers) ListByAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountNo := c.Param("account_no")
		if accountNo == "" {
			response.BadRequest(c, "account number is required")
			return
		}

		list, err := h.service.db.GetOrdersByAccount(accountNo)
		response.Handle(c, gin.H{"count": len(list), "deposits": list}, err)
	}
}

// ListAllHandler handles GET requests for all deposits, paginated by recency
func (h *GinHandlers) ListAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}

		list, err := h.service.db.GetOrders(limit, offset)
		response.Handle(c, gin.H{"count": len(list), "deposits": list}, err)
	}
}
