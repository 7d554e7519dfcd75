package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrGatewayUnavailable covers transport failures and non-2xx vendor
// responses. Callers treat it as an unknown outcome requiring reconciliation,
// not as a confirmed failure.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// LegacyClient talks to the legacy payment gateway: a bearer-token payin API
// plus CBC-encrypted order and payout endpoints.
type LegacyClient struct {
	http      *resty.Client
	codec     *CBCCodec
	tokens    *TokenCache
	agentCode string
	gatewayID int
	username  string
	password  string
}

type LegacyConfig struct {
	BaseURL   string
	Username  string
	Password  string
	AgentCode string
	GatewayID int
	Timeout   time.Duration
}

func NewLegacyClient(cfg LegacyConfig, codec *CBCCodec) *LegacyClient {
	c := &LegacyClient{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		codec:     codec,
		agentCode: cfg.AgentCode,
		gatewayID: cfg.GatewayID,
		username:  cfg.Username,
		password:  cfg.Password,
	}
	c.tokens = NewTokenCache(c.loginOnce)
	return c
}

type loginResponse struct {
	Data struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	} `json:"data"`
}

func (c *LegacyClient) loginOnce(ctx context.Context) (string, time.Duration, error) {
	var out loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": c.username, "password": c.password}).
		SetResult(&out).
		Post("/login")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() || out.Data.Token == "" {
		return "", 0, fmt.Errorf("%w: login rejected (%s)", ErrGatewayUnavailable, resp.Status())
	}
	return out.Data.Token, time.Duration(out.Data.ExpiresIn) * time.Second, nil
}

// PayinResult is the vendor's answer to a payin generation request.
type PayinResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	PaymentURL    string `json:"payment_url"`
	TransactionID string `json:"transaction_id"`
}

// GeneratePayin asks the gateway for a hosted payment page. The caller must
// have durably created its order record before calling this.
func (c *LegacyClient) GeneratePayin(ctx context.Context, amount int64, merchantTxnID, merchantUserID string) (*PayinResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			URL           string `json:"url"`
			TransactionID string `json:"transaction_id"`
		} `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]interface{}{
			"gateway_id":       c.gatewayID,
			"amount":           amount,
			"merchant_txn_id":  merchantTxnID,
			"merchant_user_id": merchantUserID,
		}).
		SetResult(&out).
		Post("/payin/generate")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode() == 401 {
		// Token may have been revoked server-side; drop it so the next
		// attempt logs in again.
		c.tokens.Invalidate()
		return nil, fmt.Errorf("%w: payin rejected (%s)", ErrGatewayUnavailable, resp.Status())
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: payin rejected (%s)", ErrGatewayUnavailable, resp.Status())
	}

	return &PayinResult{
		Status:        out.Status,
		Message:       out.Message,
		PaymentURL:    out.Data.URL,
		TransactionID: out.Data.TransactionID,
	}, nil
}

// envelope is the CBC wire envelope shared by the order and payout endpoints.
type envelope struct {
	ReqData   string `json:"reqData"`
	AgentCode string `json:"agentCode"`
}

type envelopeResponse struct {
	Data json.RawMessage `json:"data"`
}

// OrderResult carries both the decrypted vendor payload (when decryption
// succeeds) and the raw response for manual review when it does not.
type OrderResult struct {
	Decrypted map[string]interface{}
	Raw       json.RawMessage
}

// CreateOrder submits a CBC-encrypted deposit order to the gateway.
func (c *LegacyClient) CreateOrder(ctx context.Context, orderID string, amount float64) (*OrderResult, error) {
	return c.postEncrypted(ctx, "/order/generate", map[string]interface{}{
		"orderid": orderID,
		"amount":  amount,
	})
}

// PayoutRequest is the bank payout payload for withdrawal dispatch. Amount is
// a string with two decimals per the vendor contract.
type PayoutRequest struct {
	Account string `json:"account"`
	IFSC    string `json:"ifsc"`
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Amount  string `json:"amount"`
	Note    string `json:"note"`
	OrderID string `json:"orderid"`
}

// PayoutResult is the decrypted vendor verdict on a payout.
type PayoutResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Raw     map[string]interface{} `json:"-"`
}

// Payout dispatches a withdrawal to the gateway and decrypts its verdict.
// A decryption failure is surfaced with the raw payload retained so the
// withdrawal can be parked for manual review instead of guessed at.
func (c *LegacyClient) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	result, err := c.postEncrypted(ctx, "/withdrawal/account", req)
	if err != nil {
		return nil, err
	}

	out := &PayoutResult{Raw: result.Decrypted}
	if result.Decrypted != nil {
		if success, ok := result.Decrypted["success"].(bool); ok {
			out.Success = success
		}
		if msg, ok := result.Decrypted["message"].(string); ok {
			out.Message = msg
		}
	}
	return out, nil
}

func (c *LegacyClient) postEncrypted(ctx context.Context, path string, payload interface{}) (*OrderResult, error) {
	encrypted, err := c.codec.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt gateway payload: %w", err)
	}

	var out envelopeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(envelope{ReqData: encrypted, AgentCode: c.agentCode}).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %s", ErrGatewayUnavailable, path, resp.Status())
	}

	result := &OrderResult{Raw: out.Data}
	if len(out.Data) > 0 {
		var wire string
		if err := json.Unmarshal(out.Data, &wire); err == nil {
			decrypted := map[string]interface{}{}
			if err := c.codec.Decrypt(wire, &decrypted); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to decrypt gateway response, keeping raw payload")
			} else {
				result.Decrypted = decrypted
			}
		}
	}
	return result, nil
}
