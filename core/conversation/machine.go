package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/okoalabs/pesabot/core/session"
	"github.com/okoalabs/pesabot/integration/bitsacco"
	"github.com/okoalabs/pesabot/pkg/money"
	"github.com/okoalabs/pesabot/pkg/phone"
)

// AuthAPI is the upstream account and authentication surface the
// machine drives. All implementations are expected to retry transient
// failures internally and report exhaustion as *bitsacco.TransientError.
type AuthAPI interface {
	LookupUser(ctx context.Context, phone string) (bitsacco.User, error)
	SendOTP(ctx context.Context, phone string) (bitsacco.OTPDispatch, error)
	VerifyOTP(ctx context.Context, phone, code string) (bitsacco.OTPVerification, error)
	GetBalance(ctx context.Context, accountID string) (bitsacco.Balance, error)
	InitiateSavings(ctx context.Context, phone string, amountKES float64) (bitsacco.SavingsIntent, error)
	GetHistory(ctx context.Context, accountID string, limit int) ([]bitsacco.Transaction, error)
}

// PriceOracle supplies the current Bitcoin price in a fiat currency.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, currency string) (float64, error)
}

// Responder answers free-form messages that match no known command.
type Responder interface {
	Generate(ctx context.Context, userContext, text string) string
}

// Config holds conversation policy settings.
type Config struct {
	OTPTTL            time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MinSaveKES        float64       `env:"SAVE_MIN_KES" envDefault:"100"`
	MaxSaveKES        float64       `env:"SAVE_MAX_KES" envDefault:"50000"`
	PriceCurrency     string        `env:"PRICE_CURRENCY" envDefault:"kes"`
	HistoryFetchLimit int           `env:"HISTORY_FETCH_LIMIT" envDefault:"5"`
}

// Machine computes session transitions for inbound messages.
type Machine struct {
	api       AuthAPI
	prices    PriceOracle
	responder Responder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger for transition diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine creates a conversation machine.
func NewMachine(cfg Config, api AuthAPI, prices PriceOracle, responder Responder, opts ...Option) *Machine {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.MinSaveKES <= 0 {
		cfg.MinSaveKES = 100
	}
	if cfg.MaxSaveKES <= 0 {
		cfg.MaxSaveKES = 50000
	}
	if cfg.PriceCurrency == "" {
		cfg.PriceCurrency = "kes"
	}
	if cfg.HistoryFetchLimit <= 0 {
		cfg.HistoryFetchLimit = 5
	}

	m := &Machine{
		api:       api,
		prices:    prices,
		responder: responder,
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Apply feeds one inbound message to the session and returns the
// replies to send. The session is mutated in place; callers persist it
// afterwards. A session marked deleted (logout) must be removed rather
// than saved. Apply never panics: an internal fault restores the
// session to its pre-call value and yields a generic apology.
func (m *Machine) Apply(ctx context.Context, sess *session.Session, text string) (replies []string) {
	snapshot := *sess
	defer func() {
		if r := recover(); r != nil {
			*sess = snapshot
			m.logger.ErrorContext(ctx, "transition panicked",
				slog.String("identifier", phone.Mask(sess.Identifier)),
				slog.Any("panic", r))
			replies = []string{replyApology}
		}
	}()

	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	// Logout works from any state.
	if lower == "logout" {
		sess.Logout()
		return []string{replyGoodbye}
	}

	// A stale OTP invalidates the pending login regardless of input.
	if sess.OTPExpired(m.now(), m.cfg.OTPTTL) {
		sess.Reset()
		return []string{replyOTPExpired}
	}

	switch sess.State {
	case session.StateAwaitingPhone:
		replies = m.applyAwaitingPhone(ctx, sess, text)
	case session.StateAwaitingOtp:
		replies = m.applyAwaitingOtp(ctx, sess, text)
	case session.StateAuthenticated:
		replies = m.applyAuthenticated(ctx, sess, text, lower)
	default:
		// Init, Error and anything unexpected restart the flow.
		sess.Reset()
		sess.EnterAwaitingPhone()
		replies = []string{replyWelcome}
	}

	sess.Remember(text)
	for _, reply := range replies {
		sess.Remember(reply)
	}
	return replies
}

func (m *Machine) applyAwaitingPhone(ctx context.Context, sess *session.Session, text string) []string {
	normalized := phone.Normalize(text)
	if !phone.IsValid(normalized) {
		return []string{replyInvalidPhone}
	}

	user, err := m.api.LookupUser(ctx, normalized)
	if err != nil {
		return []string{m.failureReply(ctx, sess, "lookup user", err)}
	}
	if !user.Found {
		return []string{replyUnknownUser(normalized)}
	}

	if _, err := m.api.SendOTP(ctx, normalized); err != nil {
		var transient *bitsacco.TransientError
		if errors.As(err, &transient) {
			return []string{replyUpstreamDown}
		}
		m.logger.WarnContext(ctx, "otp dispatch failed",
			slog.String("identifier", phone.Mask(sess.Identifier)),
			slog.String("error", err.Error()))
		return []string{replyOTPSendFailed}
	}

	sess.EnterAwaitingOtp(normalized, m.now())
	sess.FirstName = user.FirstName
	return []string{replyOTPSent(normalized)}
}

func (m *Machine) applyAwaitingOtp(ctx context.Context, sess *session.Session, text string) []string {
	code := digits(text)
	if len(code) != 6 {
		return []string{replyInvalidOTPFormat}
	}

	verification, err := m.api.VerifyOTP(ctx, sess.PendingPhone, code)
	if err != nil {
		return []string{m.failureReply(ctx, sess, "verify otp", err)}
	}
	if !verification.OK || verification.AccountID == "" {
		return []string{replyInvalidOTP}
	}

	sess.Authenticate(verification.AccountID, sess.FirstName)
	return []string{replyAuthenticated(sess.FirstName)}
}

func (m *Machine) applyAuthenticated(ctx context.Context, sess *session.Session, text, lower string) []string {
	switch {
	case lower == "balance":
		return m.handleBalance(ctx, sess)
	case lower == "save" || strings.HasPrefix(lower, "save "):
		return m.handleSave(ctx, sess, strings.TrimSpace(text[len("save"):]))
	case lower == "history":
		return m.handleHistory(ctx, sess)
	case lower == "price":
		return m.handlePrice(ctx)
	case lower == "help":
		return []string{replyHelp}
	default:
		return []string{m.responder.Generate(ctx, m.userContext(sess), text)}
	}
}

func (m *Machine) handleBalance(ctx context.Context, sess *session.Session) []string {
	balance, err := m.api.GetBalance(ctx, sess.AccountID)
	if err != nil {
		var transient *bitsacco.TransientError
		if errors.As(err, &transient) {
			return []string{replyUpstreamDown}
		}
		if errors.Is(err, bitsacco.ErrAuth) {
			sess.Reset()
			return []string{replyUpstreamAuth}
		}
		m.logger.WarnContext(ctx, "balance fetch failed",
			slog.String("identifier", phone.Mask(sess.Identifier)),
			slog.String("error", err.Error()))
		return []string{replyBalanceFailed}
	}

	// A missing price degrades the reply, it does not fail it.
	priceKES, err := m.prices.CurrentPrice(ctx, m.cfg.PriceCurrency)
	if err != nil {
		priceKES = 0
	}

	return []string{replyBalance(balance, priceKES)}
}

func (m *Machine) handleSave(ctx context.Context, sess *session.Session, rawAmount string) []string {
	amount, err := money.Parse(rawAmount)
	if err != nil {
		return []string{replyInvalidAmount}
	}
	if amount < m.cfg.MinSaveKES {
		return []string{replyAmountBelowMin(m.cfg.MinSaveKES)}
	}
	if amount > m.cfg.MaxSaveKES {
		return []string{replyAmountAboveMax(m.cfg.MaxSaveKES)}
	}

	payPhone := sess.PendingPhone
	if payPhone == "" {
		payPhone = sess.Identifier
	}

	intent, err := m.api.InitiateSavings(ctx, payPhone, amount)
	if err != nil {
		return []string{m.failureReply(ctx, sess, "initiate savings", err)}
	}

	return []string{replySavingsInitiated(intent, amount, payPhone)}
}

func (m *Machine) handleHistory(ctx context.Context, sess *session.Session) []string {
	transactions, err := m.api.GetHistory(ctx, sess.AccountID, m.cfg.HistoryFetchLimit)
	if err != nil {
		return []string{m.failureReply(ctx, sess, "fetch history", err)}
	}
	if len(transactions) == 0 {
		return []string{replyNoTransactions}
	}
	return []string{replyHistory(transactions)}
}

func (m *Machine) handlePrice(ctx context.Context) []string {
	priceKES, err := m.prices.CurrentPrice(ctx, m.cfg.PriceCurrency)
	if err != nil {
		return []string{replyPriceFailed}
	}
	return []string{replyPrice(priceKES)}
}

// failureReply maps an upstream error to a user-facing message. Auth
// failures drop the session back to Init so the user can restart.
func (m *Machine) failureReply(ctx context.Context, sess *session.Session, op string, err error) string {
	m.logger.WarnContext(ctx, "upstream call failed",
		slog.String("op", op),
		slog.String("identifier", phone.Mask(sess.Identifier)),
		slog.String("error", err.Error()))

	if errors.Is(err, bitsacco.ErrAuth) {
		sess.Reset()
		return replyUpstreamAuth
	}
	var transient *bitsacco.TransientError
	if errors.As(err, &transient) {
		return replyUpstreamDown
	}
	return replyApology
}

func (m *Machine) userContext(sess *session.Session) string {
	var b strings.Builder
	b.WriteString("authenticated user of a Bitcoin savings service")
	if sess.FirstName != "" {
		fmt.Fprintf(&b, ", name %s", sess.FirstName)
	}
	if n := len(sess.History); n > 0 {
		recent := sess.History
		if n > 6 {
			recent = recent[n-6:]
		}
		fmt.Fprintf(&b, "; recent messages: %s", strings.Join(recent, " | "))
	}
	return b.String()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
