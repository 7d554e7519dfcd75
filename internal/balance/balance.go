package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// MaxOrderIDLength is the vendor-side limit on idempotency keys. Longer ids
// are rejected locally so the constraint never breaks silently.
const MaxOrderIDLength = 16

var (
	// ErrExternalService wraps vendor failure envelopes and transport
	// failures from the trading ledger.
	ErrExternalService = errors.New("balance provider error")

	ErrOrderIDTooLong = fmt.Errorf("order id exceeds %d characters", MaxOrderIDLength)
)

// Client wraps the external trading ledger's HTTP API. The vendor exposes a
// single endpoint discriminated by a `type` query parameter. No automatic
// retries: failures propagate to the caller with the vendor's message.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// AccountSummary is the vendor's balance/margin report for one account.
type AccountSummary struct {
	Balance decimal.Decimal `json:"balance"`
	Margin  decimal.Decimal `json:"margin"`
}

type balanceEnvelope struct {
	Response string `json:"response"`
	Message  string `json:"message"`
	Balance  string `json:"Balance"`
	Margin   string `json:"Margin"`
}

// CheckBalance fetches the current balance and open-trade margin for an
// account. A vendor failure envelope or transport failure surfaces as
// ErrExternalService.
func (c *Client) CheckBalance(ctx context.Context, accountNo string) (*AccountSummary, error) {
	var out balanceEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "SNDPCheckBalance").
		SetBody(map[string]string{"accountno": accountNo}).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if resp.IsError() || out.Response == "failed" {
		return nil, vendorError("check balance", out.Message, resp.Status())
	}

	return &AccountSummary{
		Balance: parseVendorNumber(out.Balance),
		Margin:  parseVendorNumber(out.Margin),
	}, nil
}

// AdjustBalance credits (positive amount) or debits (negative amount) an
// account. orderID is the vendor-side idempotency key: the vendor collapses
// repeated calls carrying the same id, so callers must derive it from the
// event being settled, never from the clock at retry time.
func (c *Client) AdjustBalance(ctx context.Context, accountNo string, amount decimal.Decimal, orderID string) error {
	if len(orderID) > MaxOrderIDLength {
		return ErrOrderIDTooLong
	}
	if orderID == "" {
		return errors.New("order id is required")
	}

	var out balanceEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "SNDPAddBalance").
		SetBody(map[string]interface{}{
			"accountno": accountNo,
			"amount":    amount.InexactFloat64(),
			"orderid":   orderID,
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if resp.IsError() || out.Response != "success" {
		return vendorError("adjust balance", out.Message, resp.Status())
	}
	return nil
}

// Trade is one executed deal in the vendor's trade history.
type Trade struct {
	Symbol string
	Lots   float64
}

// TradeHistory carries the fetched trades plus an explicit completeness
// flag so callers can distinguish "zero trades" from "unknown due to vendor
// outage".
type TradeHistory struct {
	Trades   []Trade
	Complete bool
}

type dealEnvelope struct {
	Response string `json:"response"`
	Message  string `json:"message"`
	Data     []struct {
		Symbol string `json:"Symbol"`
		Qty    string `json:"Qty"`
	} `json:"data"`
}

// FetchTrades returns the account's deals in [start, end]. This path fails
// open: any vendor failure yields an empty, Complete=false history instead of
// an error, so commission aggregation degrades to undercounting rather than
// halting on a single account outage.
func (c *Client) FetchTrades(ctx context.Context, accountNo string, start, end time.Time) TradeHistory {
	var out dealEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "SNDPDeal").
		SetBody(map[string]string{
			"accountno": accountNo,
			"sdate":     start.Format("2006-01-02"),
			"edate":     end.Format("2006-01-02"),
		}).
		SetResult(&out).
		Post("")
	if err != nil || resp.IsError() || out.Response != "success" {
		log.Warn().
			Err(err).
			Str("account_no", accountNo).
			Str("vendor_message", out.Message).
			Msg("trade history fetch failed, treating as incomplete")
		return TradeHistory{Complete: false}
	}

	trades := make([]Trade, 0, len(out.Data))
	for _, d := range out.Data {
		lots, _ := strconv.ParseFloat(d.Qty, 64)
		trades = append(trades, Trade{Symbol: d.Symbol, Lots: lots})
	}
	return TradeHistory{Trades: trades, Complete: true}
}

// RegisterRequest provisions a new trading account with the vendor.
type RegisterRequest struct {
	Email    string `json:"email"`
	Currency string `json:"curr"`
	Type     string `json:"actype"`
	UserType string `json:"Utype"`
	Referral string `json:"Ref"`
	Password string `json:"Password"`
}

type registerEnvelope struct {
	Response  string `json:"response"`
	Message   string `json:"message"`
	AccountNo string `json:"accountno"`
}

// RegisterAccount creates a trading account on the vendor side and returns
// the assigned account number.
func (c *Client) RegisterAccount(ctx context.Context, req RegisterRequest) (string, error) {
	var out registerEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "SNDPReguser").
		SetBody(req).
		SetResult(&out).
		Post("")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if resp.IsError() || out.Response != "success" {
		return "", vendorError("register account", out.Message, resp.Status())
	}
	return out.AccountNo, nil
}

// ChangePassword updates the vendor-side account password.
func (c *Client) ChangePassword(ctx context.Context, accountNo, newPassword string) error {
	var out balanceEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "SNDPChangePassword").
		SetBody(map[string]string{
			"accountno":   accountNo,
			"newpassword": newPassword,
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if resp.IsError() || out.Response != "success" {
		return vendorError("change password", out.Message, resp.Status())
	}
	return nil
}

func vendorError(op, message, status string) error {
	if message == "" {
		message = status
	}
	return fmt.Errorf("%w: %s failed: %s", ErrExternalService, op, message)
}

func parseVendorNumber(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
