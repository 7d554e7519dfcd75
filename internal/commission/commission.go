package commission

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrIBNotFound          = errors.New("introducing broker not found")
	ErrBelowMinimum        = errors.New("accrued commission below the minimum withdrawal")
	ErrInsufficientAccrual = errors.New("requested amount exceeds accrued commission")
	ErrNoTradingAccount    = errors.New("IB has no trading account for payout")
)

// tradeFetcher is the slice of the balance provider used for history replay.
type tradeFetcher interface {
	FetchTrades(ctx context.Context, accountNo string, start, end time.Time) balance.TradeHistory
}

// balanceAdjuster credits commission payouts to the IB's trading account.
type balanceAdjuster interface {
	AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error
}

// directory is the slice of the identity store the engine consumes.
type directory interface {
	GetUserByEmail(email string) (*identity.User, error)
	GetUsersByReferralCode(code string) ([]identity.User, error)
	GetAccountsForUser(userID uint) ([]identity.Account, error)
	SetCommissionBalance(userID uint, amount float64) error
	AddCommissionBalance(userID uint, amount float64) error
	DecrementCommissionBalance(userID uint, amount float64) error
}

// referralResolver maps an IB's email to their referral code.
type referralResolver interface {
	ReferralCodeForEmail(email string) (string, error)
}

// Service computes introducing-broker commission by replaying referred
// clients' trade history against the active rate table.
type Service struct {
	directory directory
	referrals referralResolver
	trades    tradeFetcher
	payouts   balanceAdjuster
}

func NewService(dir directory, referrals referralResolver, trades tradeFetcher, payouts balanceAdjuster) *Service {
	return &Service{
		directory: dir,
		referrals: referrals,
		trades:    trades,
		payouts:   payouts,
	}
}

// ClientCommission is the replay result for one trading account. Complete is
// false when the vendor could not produce the account's history: the amount
// then undercounts rather than erroring, and callers can surface the gap.
type ClientCommission struct {
	AccountNo string
	Amount    decimal.Decimal
	Complete  bool
}

// CalculateClientCommission replays one account's trades over [start, end].
// Each trade contributes lots x rate x share; symbols missing from the rate
// table contribute zero.
func (s *Service) CalculateClientCommission(ctx context.Context, accountNo string, start, end time.Time) ClientCommission {
	history := s.trades.FetchTrades(ctx, accountNo, start, end)

	share := decimal.NewFromFloat(IBShareFraction)
	total := decimal.Zero
	for _, trade := range history.Trades {
		rate, ok := RateFor(trade.Symbol)
		if !ok {
			continue
		}
		total = total.Add(
			decimal.NewFromFloat(trade.Lots).
				Mul(decimal.NewFromFloat(rate)).
				Mul(share))
	}

	return ClientCommission{
		AccountNo: accountNo,
		Amount:    total,
		Complete:  history.Complete,
	}
}

// Summary reports an UpdateIBCommission run.
type Summary struct {
	Email              string    `json:"email"`
	ReferralCode       string    `json:"referral_code"`
	Total              float64   `json:"total"`
	ClientsProcessed   int       `json:"clients_processed"`
	AccountsProcessed  int       `json:"accounts_processed"`
	AccountsIncomplete int       `json:"accounts_incomplete"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
}

// UpdateIBCommission recomputes the IB's commission over [start, end] across
// every referred client's every account and overwrites the stored balance
// with the result. Replacement, not increment: re-running for an overlapping
// period discards the prior accrual.
func (s *Service) UpdateIBCommission(ctx context.Context, ibEmail string, start, end time.Time) (*Summary, error) {
	ib, err := s.directory.GetUserByEmail(ibEmail)
	if err != nil {
		return nil, err
	}
	if ib == nil {
		return nil, ErrIBNotFound
	}

	code, err := s.referrals.ReferralCodeForEmail(ibEmail)
	if err != nil {
		return nil, err
	}

	clients, err := s.directory.GetUsersByReferralCode(code)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Email:        ibEmail,
		ReferralCode: code,
		Start:        start,
		End:          end,
	}

	total := decimal.Zero
	for _, client := range clients {
		accounts, err := s.directory.GetAccountsForUser(client.ID)
		if err != nil {
			return nil, err
		}
		for _, account := range accounts {
			result := s.CalculateClientCommission(ctx, account.AccountNo, start, end)
			total = total.Add(result.Amount)
			summary.AccountsProcessed++
			if !result.Complete {
				summary.AccountsIncomplete++
			}
		}
		summary.ClientsProcessed++
	}

	summary.Total = total.InexactFloat64()
	if err := s.directory.SetCommissionBalance(ib.ID, summary.Total); err != nil {
		return nil, err
	}

	log.Info().
		Str("ib_email", ibEmail).
		Str("referral_code", code).
		Float64("total", summary.Total).
		Int("clients", summary.ClientsProcessed).
		Int("incomplete_accounts", summary.AccountsIncomplete).
		Msg("IB commission recomputed")

	return summary, nil
}

// WithdrawCommission pays out part of an IB's accrued commission to their
// trading account. The accrual must meet the minimum threshold and cover the
// requested amount; the balance decrement is conditional so two concurrent
// withdrawals cannot both drain the same accrual.
func (s *Service) WithdrawCommission(ctx context.Context, ibEmail string, amount float64) error {
	ib, err := s.directory.GetUserByEmail(ibEmail)
	if err != nil {
		return err
	}
	if ib == nil {
		return ErrIBNotFound
	}

	if ib.CommissionBalance < MinCommissionWithdrawal {
		return ErrBelowMinimum
	}
	if amount <= 0 || amount > ib.CommissionBalance {
		return ErrInsufficientAccrual
	}

	accounts, err := s.directory.GetAccountsForUser(ib.ID)
	if err != nil {
		return err
	}
	var payoutAccount string
	for _, account := range accounts {
		if account.AccountType == "LIVE" {
			payoutAccount = account.AccountNo
			break
		}
	}
	if payoutAccount == "" {
		return ErrNoTradingAccount
	}

	if err := s.directory.DecrementCommissionBalance(ib.ID, amount); err != nil {
		return ErrInsufficientAccrual
	}

	orderID := orders.NewOrderID("IBW")
	if err := s.payouts.AdjustBalance(ctx, payoutAccount, decimal.NewFromFloat(amount), orderID); err != nil {
		// Credit failed: restore the accrual so nothing is lost.
		if restoreErr := s.directory.AddCommissionBalance(ib.ID, amount); restoreErr != nil {
			log.Error().
				Err(restoreErr).
				Str("ib_email", ibEmail).
				Float64("amount", amount).
				Msg("failed to restore commission accrual after payout failure")
		}
		return err
	}

	log.Info().
		Str("ib_email", ibEmail).
		Str("account_no", payoutAccount).
		Str("order_id", orderID).
		Float64("amount", amount).
		Msg("commission withdrawal paid out")

	return nil
}
