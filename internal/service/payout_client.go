package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/withdrawal"
)

// PayoutRailClient submits withdrawals to the payout rail over HTTP.
type PayoutRailClient struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
	maxElapsed  time.Duration
}

func NewPayoutRailClient(baseURL, callbackURL string) *PayoutRailClient {
	return &PayoutRailClient{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxElapsed: 15 * time.Second,
	}
}

type payoutPayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	AccountID    string `json:"account_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	CallbackURL  string `json:"callback_url"`
}

type payoutAccepted struct {
	RailReference string `json:"rail_reference"`
}

// Submit sends the payout and returns the rail's reference. Network errors
// and 5xx responses are retried; the rail deduplicates on the withdrawal id.
// A 4xx refusal is returned wrapping domain.ErrPayoutRejected.
func (c *PayoutRailClient) Submit(ctx context.Context, req withdrawal.PayoutRequest) (string, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(payoutPayload{
		WithdrawalID: req.WithdrawalID.String(),
		AccountID:    req.AccountID.String(),
		Amount:       req.Amount,
		Currency:     string(req.Currency),
		CallbackURL:  c.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("Submit: marshal: %w", err)
	}

	var ref string
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.send(ctx, body)
		if err != nil {
			log.Warn("payout rail request failed", "withdrawal_id", req.WithdrawalID, "attempt", attempt, "error", err)
			return err
		}
		ref = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("Submit: %w", err)
	}
	return ref, nil
}

func (c *PayoutRailClient) send(ctx context.Context, body []byte) (string, error) {
	log := logging.FromContext(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := logging.TraceID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("payout rail response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	default:
		return "", backoff.Permanent(fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrPayoutRejected))
	}

	var accepted payoutAccepted
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if accepted.RailReference == "" {
		return "", backoff.Permanent(errors.New("response missing rail_reference"))
	}
	return accepted.RailReference, nil
}
