package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const traceIDHeader = "X-Request-ID"

type config struct {
	Port          int           `env:"PORT" envDefault:"8081"`
	WebhookSecret string        `env:"WEBHOOK_SECRET,required,notEmpty"`
	SettleDelay   time.Duration `env:"MOCK_SETTLE_DELAY" envDefault:"2s"`
	// Payouts whose minor amount ends in RejectCents are rejected, giving a deterministic failure path.
	RejectCents int64  `env:"MOCK_REJECT_CENTS" envDefault:"13"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
}

type payoutRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	AccountID    string `json:"account_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	CallbackURL  string `json:"callback_url"`
}

type rail struct {
	cfg    config
	client *http.Client

	mu       sync.Mutex
	accepted map[string]string
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Init("mock-payout-rail", "info", cfg.AppEnv)

	r := &rail{
		cfg:      cfg,
		client:   &http.Client{Timeout: 5 * time.Second},
		accepted: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /payouts", r.submit)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("mock payout rail started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// submit accepts a payout once per withdrawal id and settles it later through
// the callback URL. The caller's X-Request-ID is echoed on the callback.
func (r *rail) submit(w http.ResponseWriter, req *http.Request) {
	traceID := req.Header.Get(traceIDHeader)
	log := slog.Default().With("trace_id", traceID)

	var p payoutRequest
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil || p.WithdrawalID == "" || p.CallbackURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payout request"})
		return
	}

	r.mu.Lock()
	ref, seen := r.accepted[p.WithdrawalID]
	if !seen {
		ref = "rail-" + uuid.NewString()
		r.accepted[p.WithdrawalID] = ref
	}
	r.mu.Unlock()

	if seen {
		log.Info("duplicate payout submission", "withdrawal_id", p.WithdrawalID, "rail_reference", ref)
	} else {
		log.Info("payout accepted", "withdrawal_id", p.WithdrawalID, "amount", p.Amount, "currency", p.Currency, "rail_reference", ref)
		go r.settleLater(log, p, ref, traceID)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"rail_reference": ref})
}

func (r *rail) settleLater(log *slog.Logger, p payoutRequest, ref, traceID string) {
	time.Sleep(r.cfg.SettleDelay)

	cb := domain.PayoutCallback{
		EventID:       uuid.NewString(),
		WithdrawalID:  p.WithdrawalID,
		Status:        string(domain.SettlementOutcomeSettled),
		RailReference: ref,
	}
	if r.cfg.RejectCents > 0 && p.Amount%100 == r.cfg.RejectCents {
		cb.Status = string(domain.SettlementOutcomeRejected)
		cb.Reason = "beneficiary bank declined the transfer"
	}

	body, err := json.Marshal(cb)
	if err != nil {
		log.Error("failed to encode callback", "error", err)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	err = backoff.Retry(func() error { return r.post(p.CallbackURL, body, traceID) }, b)
	if err != nil {
		log.Error("callback delivery gave up", "withdrawal_id", p.WithdrawalID, "error", err)
		return
	}
	log.Info("callback delivered", "withdrawal_id", p.WithdrawalID, "status", cb.Status, "event_id", cb.EventID)
}

func (r *rail) post(url string, body []byte, traceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sign(body, r.cfg.WebhookSecret))
	if traceID != "" {
		req.Header.Set(traceIDHeader, traceID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("callback returned %d", resp.StatusCode))
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
