package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeDirectory struct {
	users       map[string]*identity.User
	byReferral  map[string][]identity.User
	accounts    map[uint][]identity.Account
	balances    map[uint]float64
	setCalls    int
	decrementOK bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:       make(map[string]*identity.User),
		byReferral:  make(map[string][]identity.User),
		accounts:    make(map[uint][]identity.Account),
		balances:    make(map[uint]float64),
		decrementOK: true,
	}
}

func (f *fakeDirectory) GetUserByEmail(email string) (*identity.User, error) {
	return f.users[email], nil
}

func (f *fakeDirectory) GetUsersByReferralCode(code string) ([]identity.User, error) {
	return f.byReferral[code], nil
}

func (f *fakeDirectory) GetAccountsForUser(userID uint) ([]identity.Account, error) {
	return f.accounts[userID], nil
}

func (f *fakeDirectory) SetCommissionBalance(userID uint, amount float64) error {
	f.setCalls++
	f.balances[userID] = amount
	return nil
}

func (f *fakeDirectory) AddCommissionBalance(userID uint, amount float64) error {
	f.balances[userID] += amount
	return nil
}

func (f *fakeDirectory) DecrementCommissionBalance(userID uint, amount float64) error {
	if !f.decrementOK || f.balances[userID] < amount {
		return errors.New("insufficient commission balance")
	}
	f.balances[userID] -= amount
	return nil
}

type fakeReferrals struct {
	codes map[string]string
}

func (f *fakeReferrals) ReferralCodeForEmail(email string) (string, error) {
	code, ok := f.codes[email]
	if !ok {
		return "", errors.New("IB request not found")
	}
	return code, nil
}

type fakeTrades struct {
	histories map[string]balance.TradeHistory
}

func (f *fakeTrades) FetchTrades(ctx context.Context, accountNo string, start, end time.Time) balance.TradeHistory {
	return f.histories[accountNo]
}

type fakePayouts struct {
	calls    []string
	amounts  []float64
	fail     bool
	orderIDs []string
}

func (f *fakePayouts) AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error {
	if f.fail {
		return errors.New("ledger unavailable")
	}
	f.calls = append(f.calls, accountNo)
	f.amounts = append(f.amounts, amount.InexactFloat64())
	f.orderIDs = append(f.orderIDs, orderID)
	return nil
}

func window() (time.Time, time.Time) {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
}

func TestCalculateClientCommission(t *testing.T) {
	trades := &fakeTrades{histories: map[string]balance.TradeHistory{
		"50001234": {
			Complete: true,
			Trades: []balance.Trade{
				{Symbol: "XAUUSD", Lots: 2},       // 2 x 2.7 x 0.33 = 1.782
				{Symbol: "EURUSD", Lots: 3},       // 3 x 2.0 x 0.33 = 1.98
				{Symbol: "UNLISTEDPAIR", Lots: 9}, // no rate, contributes zero
			},
		},
	}}
	svc := NewService(newFakeDirectory(), &fakeReferrals{}, trades, &fakePayouts{})

	start, end := window()
	result := svc.CalculateClientCommission(context.Background(), "50001234", start, end)

	want := decimal.NewFromFloat(3.762)
	if !result.Amount.Equal(want) {
		t.Fatalf("expected commission %s, got %s", want, result.Amount)
	}
	if !result.Complete {
		t.Fatal("expected complete result")
	}
}

func TestCalculateClientCommissionIncompleteHistory(t *testing.T) {
	trades := &fakeTrades{histories: map[string]balance.TradeHistory{
		"50001234": {Complete: false},
	}}
	svc := NewService(newFakeDirectory(), &fakeReferrals{}, trades, &fakePayouts{})

	start, end := window()
	result := svc.CalculateClientCommission(context.Background(), "50001234", start, end)

	if result.Complete {
		t.Fatal("expected incomplete result on vendor outage")
	}
	if !result.Amount.IsZero() {
		t.Fatalf("expected zero amount, got %s", result.Amount)
	}
}

func TestUpdateIBCommissionOverwritesBalance(t *testing.T) {
	dir := newFakeDirectory()
	dir.users["ib@example.com"] = &identity.User{Model: gorm.Model{ID: 7}, CommissionBalance: 999}
	dir.byReferral["IBABC123"] = []identity.User{
		{Model: gorm.Model{ID: 11}},
		{Model: gorm.Model{ID: 12}},
	}
	dir.accounts[11] = []identity.Account{{AccountNo: "50001111"}}
	dir.accounts[12] = []identity.Account{{AccountNo: "50002222"}, {AccountNo: "50003333"}}

	trades := &fakeTrades{histories: map[string]balance.TradeHistory{
		"50001111": {Complete: true, Trades: []balance.Trade{{Symbol: "EURUSD", Lots: 10}}}, // 6.6
		"50002222": {Complete: true, Trades: []balance.Trade{{Symbol: "XAGUSD", Lots: 1}}},  // 6.6
		"50003333": {Complete: false},
	}}

	svc := NewService(dir, &fakeReferrals{codes: map[string]string{"ib@example.com": "IBABC123"}}, trades, &fakePayouts{})

	start, end := window()
	summary, err := svc.UpdateIBCommission(context.Background(), "ib@example.com", start, end)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if summary.ClientsProcessed != 2 || summary.AccountsProcessed != 3 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AccountsIncomplete != 1 {
		t.Fatalf("expected 1 incomplete account, got %d", summary.AccountsIncomplete)
	}
	if summary.Total != 13.2 {
		t.Fatalf("expected total 13.2, got %v", summary.Total)
	}

	// The prior accrual of 999 must be replaced, not incremented
	if dir.balances[7] != 13.2 {
		t.Fatalf("expected stored balance 13.2, got %v", dir.balances[7])
	}
	if dir.setCalls != 1 {
		t.Fatalf("expected one balance write, got %d", dir.setCalls)
	}
}

func TestUpdateIBCommissionUnknownIB(t *testing.T) {
	svc := NewService(newFakeDirectory(), &fakeReferrals{}, &fakeTrades{}, &fakePayouts{})

	start, end := window()
	if _, err := svc.UpdateIBCommission(context.Background(), "ghost@example.com", start, end); !errors.Is(err, ErrIBNotFound) {
		t.Fatalf("expected ErrIBNotFound, got %v", err)
	}
}

func withdrawFixture(accrual float64) (*fakeDirectory, *fakePayouts, *Service) {
	dir := newFakeDirectory()
	dir.users["ib@example.com"] = &identity.User{Model: gorm.Model{ID: 7}, CommissionBalance: accrual}
	dir.balances[7] = accrual
	dir.accounts[7] = []identity.Account{
		{AccountNo: "50009999", AccountType: "DEMO"},
		{AccountNo: "50001234", AccountType: "LIVE"},
	}
	payouts := &fakePayouts{}
	svc := NewService(dir, &fakeReferrals{}, &fakeTrades{}, payouts)
	return dir, payouts, svc
}

func TestWithdrawCommission(t *testing.T) {
	dir, payouts, svc := withdrawFixture(120)

	if err := svc.WithdrawCommission(context.Background(), "ib@example.com", 80); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	if dir.balances[7] != 40 {
		t.Fatalf("expected remaining accrual 40, got %v", dir.balances[7])
	}
	if len(payouts.calls) != 1 || payouts.calls[0] != "50001234" {
		t.Fatalf("expected payout to LIVE account, got %v", payouts.calls)
	}
	if payouts.amounts[0] != 80 {
		t.Fatalf("expected payout amount 80, got %v", payouts.amounts[0])
	}
	if len(payouts.orderIDs[0]) > 16 {
		t.Fatalf("payout order id %q exceeds 16 characters", payouts.orderIDs[0])
	}
}

func TestWithdrawCommissionBelowMinimum(t *testing.T) {
	_, _, svc := withdrawFixture(MinCommissionWithdrawal - 1)

	if err := svc.WithdrawCommission(context.Background(), "ib@example.com", 10); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestWithdrawCommissionExceedsAccrual(t *testing.T) {
	_, _, svc := withdrawFixture(120)

	if err := svc.WithdrawCommission(context.Background(), "ib@example.com", 121); !errors.Is(err, ErrInsufficientAccrual) {
		t.Fatalf("expected ErrInsufficientAccrual, got %v", err)
	}
}

func TestWithdrawCommissionNoLiveAccount(t *testing.T) {
	dir, _, svc := withdrawFixture(120)
	dir.accounts[7] = []identity.Account{{AccountNo: "50009999", AccountType: "DEMO"}}

	if err := svc.WithdrawCommission(context.Background(), "ib@example.com", 80); !errors.Is(err, ErrNoTradingAccount) {
		t.Fatalf("expected ErrNoTradingAccount, got %v", err)
	}
}

func TestWithdrawCommissionRestoresAccrualOnPayoutFailure(t *testing.T) {
	dir, payouts, svc := withdrawFixture(120)
	payouts.fail = true

	if err := svc.WithdrawCommission(context.Background(), "ib@example.com", 80); err == nil {
		t.Fatal("expected payout failure to surface")
	}

	if dir.balances[7] != 120 {
		t.Fatalf("expected accrual restored to 120, got %v", dir.balances[7])
	}
}
