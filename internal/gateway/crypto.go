package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// CryptoClient talks to the crypto-payments gateway, which wraps every
// payload in the authenticated GCM wire format.
type CryptoClient struct {
	http      *resty.Client
	codec     *GCMCodec
	agentCode string
}

type CryptoConfig struct {
	BaseURL   string
	AgentCode string
	Timeout   time.Duration
}

func NewCryptoClient(cfg CryptoConfig, codec *GCMCodec) *CryptoClient {
	return &CryptoClient{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		codec:     codec,
		agentCode: cfg.AgentCode,
	}
}

type cryptoEnvelope struct {
	Data      string `json:"data"`
	AgentCode string `json:"agentCode"`
}

// CreateOrder submits a GCM-encrypted deposit order to the crypto gateway.
func (c *CryptoClient) CreateOrder(ctx context.Context, orderID string, amount float64) (*OrderResult, error) {
	encrypted, err := c.codec.Encrypt(map[string]interface{}{
		"orderid": orderID,
		"amount":  amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt gateway payload: %w", err)
	}

	var out envelopeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(cryptoEnvelope{Data: encrypted, AgentCode: c.agentCode}).
		SetResult(&out).
		Post("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: order create returned %s", ErrGatewayUnavailable, resp.Status())
	}

	result := &OrderResult{Raw: out.Data}
	if len(out.Data) > 0 {
		var wire string
		if err := json.Unmarshal(out.Data, &wire); err == nil {
			decrypted := map[string]interface{}{}
			if err := c.codec.Decrypt(wire, &decrypted); err != nil {
				log.Warn().Err(err).Msg("failed to decrypt crypto gateway response, keeping raw payload")
			} else {
				result.Decrypted = decrypted
			}
		}
	}
	return result, nil
}
