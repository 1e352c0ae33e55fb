package bitsacco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const userAgent = "pesabot/1.0"

// Client talks to the Bitsacco API with retry and typed failure
// classification. Safe for concurrent use; holds no mutable state beyond
// the pooled HTTP transport.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger for request-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Bitsacco API client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// do executes one logical API call under the retry policy. The request
// body is marshaled once and replayed on every attempt, as is the
// idempotency key for side-effecting methods.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bitsacco: encode request: %w", err)
		}
	}

	// One key per logical call, stable across retries, so a duplicated
	// POST cannot double an upstream side effect.
	var idempotencyKey string
	if method != http.MethodGet {
		idempotencyKey = uuid.NewString()
	}

	attempt := 0
	malformed := false
	operation := func() error {
		attempt++

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			malformed = true
			return backoff.Permanent(fmt.Errorf("bitsacco: build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.WarnContext(ctx, "bitsacco request failed",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err // network/timeout, retryable
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				malformed = true
				return backoff.Permanent(fmt.Errorf("bitsacco: decode response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusNoContent:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode))
		case resp.StatusCode >= 500:
			c.logger.WarnContext(ctx, "bitsacco server error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt))
			return fmt.Errorf("bitsacco: server error: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(&ClientError{StatusCode: resp.StatusCode, Body: string(raw)})
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err == nil {
		return nil
	}

	// Terminal classifications pass through untouched; everything else
	// means the retry budget ran out on a retryable cause.
	var clientErr *ClientError
	if malformed || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuth) || errors.As(err, &clientErr) {
		return err
	}
	return &TransientError{Attempts: attempt, Err: err}
}

// User is the result of a phone lookup. Found is false when the phone
// has no Bitsacco account.
type User struct {
	Found     bool
	AccountID string
	FirstName string
}

// LookupUser resolves a normalized phone number to an account. An
// unknown number is a regular outcome, not an error.
func (c *Client) LookupUser(ctx context.Context, phone string) (User, error) {
	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	err := c.do(ctx, http.MethodGet, "/users/phone/"+url.PathEscape(phone), nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return User{}, nil
	}
	if err != nil {
		return User{}, err
	}

	return User{Found: true, AccountID: resp.ID, FirstName: firstWord(resp.Name)}, nil
}

// OTPDispatch reports a successfully issued OTP.
type OTPDispatch struct {
	ExpiresIn time.Duration
	RequestID string
}

// SendOTP asks the upstream to SMS a one-time code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) (OTPDispatch, error) {
	req := map[string]string{
		"phone_number": phone,
		"action":       "whatsapp_login",
		"channel":      "sms",
	}
	var resp struct {
		ExpiresIn int    `json:"expires_in"`
		RequestID string `json:"request_id"`
	}

	if err := c.do(ctx, http.MethodPost, "/auth/send-otp", req, &resp); err != nil {
		return OTPDispatch{}, err
	}

	if resp.ExpiresIn <= 0 {
		resp.ExpiresIn = 300
	}
	return OTPDispatch{
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
		RequestID: resp.RequestID,
	}, nil
}

// OTPVerification is the outcome of a code check. OK is false for a
// wrong code; errors are reserved for upstream failures.
type OTPVerification struct {
	OK        bool
	AccountID string
}

// VerifyOTP checks a user-supplied code against the upstream.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (OTPVerification, error) {
	req := map[string]string{
		"phone_number": phone,
		"otp_code":     code,
		"action":       "whatsapp_login",
	}
	var resp struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"user_id"`
	}

	if err := c.do(ctx, http.MethodPost, "/auth/verify-otp", req, &resp); err != nil {
		return OTPVerification{}, err
	}

	return OTPVerification{OK: resp.Valid, AccountID: resp.UserID}, nil
}

// Balance is an account's holdings.
type Balance struct {
	BTC float64 `json:"btc_balance"`
	KES float64 `json:"kes_balance"`
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	var balance Balance
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(accountID)+"/balance", nil, &balance)
	return balance, err
}

// SavingsIntent is an initiated savings transaction awaiting M-Pesa
// confirmation.
type SavingsIntent struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	EstimatedBTC  float64 `json:"estimated_btc"`
}

// InitiateSavings starts a Bitcoin savings purchase paid via M-Pesa.
func (c *Client) InitiateSavings(ctx context.Context, phone string, amountKES float64) (SavingsIntent, error) {
	req := map[string]any{
		"phone_number":     phone,
		"amount_kes":       amountKES,
		"payment_method":   "mpesa",
		"transaction_type": "bitcoin_savings",
		"currency":         "KES",
	}

	var intent SavingsIntent
	if err := c.do(ctx, http.MethodPost, "/transactions/savings/initiate", req, &intent); err != nil {
		return SavingsIntent{}, err
	}
	if intent.Status == "" {
		intent.Status = "pending"
	}
	return intent, nil
}

// Transaction is one entry of an account's history.
type Transaction struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
	Date     string  `json:"date"`
}

// GetHistory fetches the most recent transactions for an account.
func (c *Client) GetHistory(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 10
	}

	var resp struct {
		Transactions []Transaction `json:"transactions"`
	}
	path := "/users/" + url.PathEscape(accountID) + "/transactions?order=desc&limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Healthcheck verifies upstream connectivity.
func (c *Client) Healthcheck(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("bitsacco: degraded: status %q", resp.Status)
	}
	return nil
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
