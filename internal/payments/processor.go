package payments

import (
	"context"
	"time"

	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Processor periodically retries credits that failed after their callback
// was recorded. The ledger collapses repeated adjustments carrying the same
// order id, so retrying with the stored credit key can never double-credit.
type Processor struct {
	service      *Service
	processDelay time.Duration // Time between reconciliation sweeps
}

func NewProcessor(service *Service) *Processor {
	return &Processor{
		service:      service,
		processDelay: 5 * time.Minute,
	}
}

// Start begins the credit reconciliation loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "credit_processor").Logger()
	logger.Info().Msg("starting credit processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down credit processor")
			return
		case <-ticker.C:
			if err := p.processFailedCredits(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process failed credits")
			}
		}
	}
}

func (p *Processor) processFailedCredits(ctx context.Context) error {
	logger := log.With().Str("component", "credit_processor").Logger()

	failed, err := p.service.db.GetFailedCredits()
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}
	logger.Info().Int("failed_count", len(failed)).Msg("retrying failed credits")

	for i := range failed {
		txn := &failed[i]
		if txn.VendorStatus == "undecryptable" {
			// Parked payloads need a human, not a retry
			continue
		}
		if err := p.retryCredit(ctx, txn); err != nil {
			logger.Warn().
				Err(err).
				Str("vendor_txn_id", txn.VendorTxnID).
				Msg("credit retry failed, will retry next sweep")
		}
	}

	return nil
}

// retryCredit re-attempts the ledger credit for one recorded transaction
// using its original idempotency key.
func (p *Processor) retryCredit(ctx context.Context, txn *Transaction) error {
	var order *orders.Order
	if txn.OrderID != "" {
		var err error
		order, err = p.service.orders.GetOrder(txn.OrderID)
		if err != nil {
			return err
		}
	}

	accountNo := txn.AccountNo
	if order != nil {
		accountNo = order.AccountNo
	}
	if accountNo == "" {
		// No order and no vendor-reported account; leave for manual
		// reconciliation
		return nil
	}

	creditKey := txn.CreditOrderID
	if creditKey == "" {
		creditKey = CreditKey(txn.VendorTxnID)
	}

	amountUSD := txn.AmountUSD
	if amountUSD == 0 {
		amountUSD = p.service.fx.Convert(ctx, decimal.NewFromFloat(txn.AmountINR)).InexactFloat64()
	}

	if err := p.service.ledger.AdjustBalance(ctx, accountNo, decimal.NewFromFloat(amountUSD), creditKey); err != nil {
		return err
	}

	// Outcome of the original attempt is unknown, so the order may already
	// be finalized; that is fine, the credit key kept the ledger idempotent.
	if order != nil {
		if _, err := p.service.orders.Finalize(order.OrderID, orders.StatusSuccess); err != nil {
			return err
		}
	}

	if err := p.service.db.SetCreditOutcome(txn.VendorTxnID, CreditApplied, creditKey, accountNo, amountUSD); err != nil {
		return err
	}

	log.Info().
		Str("vendor_txn_id", txn.VendorTxnID).
		Str("order_id", txn.OrderID).
		Str("account_no", accountNo).
		Float64("amount_usd", amountUSD).
		Msg("failed credit recovered")

	return nil
}
