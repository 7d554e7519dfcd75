package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// orderLedger is the slice of the order service callbacks settle against.
type orderLedger interface {
	GetOrder(orderID string) (*orders.Order, error)
	Finalize(orderID, status string) (alreadyFinal bool, err error)
}

type creditor interface {
	AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error
}

type fxConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal) decimal.Decimal
}

type wireCodec interface {
	Decrypt(wire string, out interface{}) error
}

type accountResolver interface {
	GetAccount(accountNo string) (*identity.Account, error)
}

// Service reconciles gateway callbacks against deposit orders and credits
// trading accounts. Callbacks arrive at-least-once, out of order, and
// sometimes for transactions nobody initiated here, so every path records
// first and judges after.
type Service struct {
	db          *Database
	orders      orderLedger
	accounts    accountResolver
	ledger      creditor
	fx          fxConverter
	legacyCodec wireCodec
	cryptoCodec wireCodec
	notifier    notify.Sender
	adminEmail  string
}

func NewService(gormDB *gorm.DB, orderLedger orderLedger, accounts accountResolver, ledger creditor, fx fxConverter, legacyCodec, cryptoCodec wireCodec, notifier notify.Sender, adminEmail string) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		orders:      orderLedger,
		accounts:    accounts,
		ledger:      ledger,
		fx:          fx,
		legacyCodec: legacyCodec,
		cryptoCodec: cryptoCodec,
		notifier:    notifier,
		adminEmail:  adminEmail,
	}
}

// CreditKey derives the ledger idempotency key for a hosted-gateway credit
// from the vendor transaction id. The same callback replayed always produces
// the same key, so the ledger collapses retries into one credit. The result
// is 16 characters, the ledger's order id ceiling.
func CreditKey(vendorTxnID string) string {
	sum := sha256.Sum256([]byte(vendorTxnID))
	return "DT" + hex.EncodeToString(sum[:])[:14]
}

// hostedCallback is the raw JSON callback from the hosted payment page.
// merchant_user_id carries the trading account number the vendor was given
// at payin time.
type hostedCallback struct {
	Transaction struct {
		ID             string `json:"id"`
		MerchantTxnID  string `json:"merchant_txn_id"`
		MerchantUserID string `json:"merchant_user_id"`
		Status         string `json:"status"`
		Amount         string `json:"amount"`
	} `json:"transaction"`
}

// ProcessHostedCallback reconciles one hosted-gateway callback. Duplicates
// (same vendor transaction id) are acknowledged without effect. Only the
// exact vendor status "completed" credits the account; when no local order
// matches merchant_txn_id, the credit falls back to the merchant_user_id
// account the vendor reports.
func (s *Service) ProcessHostedCallback(ctx context.Context, rawBody []byte) (*Transaction, error) {
	var cb hostedCallback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return nil, fmt.Errorf("malformed callback payload: %w", err)
	}
	t := cb.Transaction
	if t.ID == "" {
		return nil, fmt.Errorf("callback missing transaction id")
	}

	existing, err := s.db.GetTransactionByVendorTxnID(t.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info().
			Str("vendor_txn_id", t.ID).
			Msg("duplicate hosted callback ignored")
		return existing, nil
	}

	amountINR, _ := strconv.ParseFloat(t.Amount, 64)
	txn := &Transaction{
		VendorTxnID:  t.ID,
		OrderID:      t.MerchantTxnID,
		AccountNo:    t.MerchantUserID,
		Source:       SourceHosted,
		VendorStatus: t.Status,
		AmountINR:    amountINR,
		CreditStatus: CreditRecorded,
		Payload:      string(rawBody),
	}
	if err := s.db.CreateTransaction(txn); err != nil {
		return nil, err
	}

	if t.Status != "completed" {
		if t.MerchantTxnID != "" {
			if _, err := s.orders.Finalize(t.MerchantTxnID, orders.StatusFailed); err != nil {
				log.Warn().Err(err).Str("order_id", t.MerchantTxnID).Msg("failed to finalize order from callback")
			}
		}
		return txn, nil
	}

	s.settle(ctx, txn, CreditKey(t.ID), t.MerchantUserID)
	return txn, nil
}

// encryptedCallback is the decrypted body shared by both encrypted wires.
// The vendor reports the settled figure as realAmount; older payloads carry
// amount instead.
type encryptedCallback struct {
	TransactionID string `json:"transactionid"`
	MerchantID    string `json:"merchantid"`
	Status        string `json:"status"`
	RealAmount    string `json:"realAmount"`
	Amount        string `json:"amount"`
}

func (cb encryptedCallback) settledAmount() string {
	if cb.RealAmount != "" {
		return cb.RealAmount
	}
	return cb.Amount
}

// ProcessEncryptedCallback handles the CBC (legacy) and GCM (crypto) wire
// callbacks. An undecryptable payload is still persisted for review and
// acknowledged, per the vendor retry contract.
func (s *Service) ProcessEncryptedCallback(ctx context.Context, source, wire string) (*Transaction, error) {
	codec := s.legacyCodec
	if source == SourceCrypto {
		codec = s.cryptoCodec
	}

	var cb encryptedCallback
	if err := codec.Decrypt(wire, &cb); err != nil {
		log.Warn().Err(err).
			Str("source", source).
			Msg("callback decryption failed, payload parked for review")
		parkedID := "UNREADABLE_" + CreditKey(wire)
		if existing, err := s.db.GetTransactionByVendorTxnID(parkedID); err != nil || existing != nil {
			return existing, err
		}
		txn := &Transaction{
			VendorTxnID:  parkedID,
			Source:       source,
			VendorStatus: "undecryptable",
			CreditStatus: CreditFailed,
			Payload:      wire,
		}
		if err := s.db.CreateTransaction(txn); err != nil {
			return nil, err
		}
		return txn, nil
	}

	dedupeKey := cb.TransactionID
	if dedupeKey == "" {
		dedupeKey = source + "_" + cb.MerchantID
	}

	existing, err := s.db.GetTransactionByVendorTxnID(dedupeKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info().
			Str("vendor_txn_id", dedupeKey).
			Str("source", source).
			Msg("duplicate encrypted callback ignored")
		return existing, nil
	}

	amountINR, _ := strconv.ParseFloat(cb.settledAmount(), 64)
	txn := &Transaction{
		VendorTxnID:  dedupeKey,
		OrderID:      cb.MerchantID,
		Source:       source,
		VendorStatus: cb.Status,
		AmountINR:    amountINR,
		CreditStatus: CreditRecorded,
		Payload:      wire,
	}
	if err := s.db.CreateTransaction(txn); err != nil {
		return nil, err
	}

	if cb.Status != "SUCCESS" {
		if cb.MerchantID != "" {
			if _, err := s.orders.Finalize(cb.MerchantID, orders.StatusFailed); err != nil {
				log.Warn().Err(err).Str("order_id", cb.MerchantID).Msg("failed to finalize order from callback")
			}
		}
		return txn, nil
	}

	// The original order id doubles as the ledger idempotency key here: one
	// order, one credit, however many times the callback lands.
	s.settle(ctx, txn, cb.MerchantID, "")
	return txn, nil
}

// settle finalizes the order and credits the trading account. When no local
// order matches, fallbackAccount (the vendor-reported account) is credited
// directly; with neither, the credit is bookkept as CREDIT_FAILED and
// escalated, never surfaced to the vendor.
func (s *Service) settle(ctx context.Context, txn *Transaction, creditKey, fallbackAccount string) {
	var order *orders.Order
	if txn.OrderID != "" {
		var err error
		order, err = s.orders.GetOrder(txn.OrderID)
		if err != nil {
			s.creditFailed(txn, creditKey, 0, err.Error())
			return
		}
	}

	accountNo := fallbackAccount
	if order != nil {
		accountNo = order.AccountNo

		alreadyFinal, err := s.orders.Finalize(order.OrderID, orders.StatusSuccess)
		if err != nil {
			s.creditFailed(txn, creditKey, 0, err.Error())
			return
		}
		if alreadyFinal {
			log.Info().
				Str("order_id", order.OrderID).
				Str("vendor_txn_id", txn.VendorTxnID).
				Msg("order already settled, credit skipped")
			return
		}
	}
	if accountNo == "" {
		s.creditFailed(txn, creditKey, 0, "no matching deposit order")
		return
	}
	txn.AccountNo = accountNo

	amountUSD := s.fx.Convert(ctx, decimal.NewFromFloat(txn.AmountINR))
	if err := s.ledger.AdjustBalance(ctx, accountNo, amountUSD, creditKey); err != nil {
		s.creditFailed(txn, creditKey, amountUSD.InexactFloat64(), err.Error())
		return
	}

	txn.AmountUSD = amountUSD.InexactFloat64()
	txn.CreditStatus = CreditApplied
	txn.CreditOrderID = creditKey
	if err := s.db.SetCreditOutcome(txn.VendorTxnID, CreditApplied, creditKey, accountNo, txn.AmountUSD); err != nil {
		log.Error().Err(err).Str("vendor_txn_id", txn.VendorTxnID).Msg("failed to record credit outcome")
	}

	log.Info().
		Str("vendor_txn_id", txn.VendorTxnID).
		Str("order_id", txn.OrderID).
		Str("account_no", accountNo).
		Float64("amount_inr", txn.AmountINR).
		Float64("amount_usd", txn.AmountUSD).
		Msg("deposit credited")

	if account, err := s.accounts.GetAccount(accountNo); err == nil && account != nil && account.User != nil {
		notify.BestEffort(s.notifier, account.User.Email,
			"Deposit Credited",
			fmt.Sprintf("Your deposit of INR %.2f (USD %.2f) has been credited to account %s.",
				txn.AmountINR, txn.AmountUSD, accountNo))
	}
}

func (s *Service) creditFailed(txn *Transaction, creditKey string, amountUSD float64, reason string) {
	txn.CreditStatus = CreditFailed
	txn.CreditOrderID = creditKey
	if err := s.db.SetCreditOutcome(txn.VendorTxnID, CreditFailed, creditKey, txn.AccountNo, amountUSD); err != nil {
		log.Error().Err(err).Str("vendor_txn_id", txn.VendorTxnID).Msg("failed to record credit failure")
	}

	log.Error().
		Str("vendor_txn_id", txn.VendorTxnID).
		Str("order_id", txn.OrderID).
		Str("reason", reason).
		Msg("deposit credit failed")

	notify.BestEffort(s.notifier, s.adminEmail,
		"Deposit Credit Failed",
		fmt.Sprintf("Callback %s (order %s) could not be credited: %s. Manual reconciliation required.",
			txn.VendorTxnID, txn.OrderID, reason))
}

// GinHandlers contains HTTP handlers for gateway callback endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// HostedCallbackHandler handles the hosted gateway's raw JSON callback
func (h *GinHandlers) HostedCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.BadRequest(c, "failed to read callback body")
			return
		}

		txn, err := h.service.ProcessHostedCallback(c.Request.Context(), body)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, gin.H{"received": true, "vendor_transaction_id": txn.VendorTxnID})
	}
}

type encryptedCallbackBody struct {
	Data string `json:"data" binding:"required"`
}

// LegacyCallbackHandler handles the legacy gateway's CBC-encrypted callback
func (h *GinHandlers) LegacyCallbackHandler() gin.HandlerFunc {
	return h.encryptedCallbackHandler(SourceLegacy)
}

// CryptoCallbackHandler handles the crypto gateway's GCM-encrypted callback
func (h *GinHandlers) CryptoCallbackHandler() gin.HandlerFunc {
	return h.encryptedCallbackHandler(SourceCrypto)
}

func (h *GinHandlers) encryptedCallbackHandler(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body encryptedCallbackBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		txn, err := h.service.ProcessEncryptedCallback(c.Request.Context(), source, body.Data)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"received": true, "vendor_transaction_id": txn.VendorTxnID})
	}
}

// ListTransactionsHandler handles GET requests for recorded callbacks
func (h *GinHandlers) ListTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}

		list, err := h.service.db.GetTransactions(limit, offset)
		response.Handle(c, gin.H{"count": len(list), "transactions": list}, err)
	}
}

// ListFailedCreditsHandler handles GET requests for credits needing review
func (h *GinHandlers) ListFailedCreditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.db.GetFailedCredits()
		response.Handle(c, gin.H{"count": len(list), "transactions": list}, err)
	}
}
