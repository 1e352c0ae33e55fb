package session

import "time"

// State identifies the position of a user in the authentication flow.
type State string

const (
	StateInit          State = "init"
	StateAwaitingPhone State = "awaiting_phone"
	StateAwaitingOtp   State = "awaiting_otp"
	StateAuthenticated State = "authenticated"
	StateError         State = "error"
)

// HistoryLimit bounds the number of remembered exchanges per session.
// History is conversational context for the AI responder, not an audit
// trail.
const HistoryLimit = 20

// Session is the per-user conversational state record.
type Session struct {
	// Identifier is the normalized phone number and immutable session key.
	Identifier string `json:"identifier"`

	State State `json:"state"`

	// AccountID links the session to the upstream account. Set exactly
	// when the session is authenticated.
	AccountID string `json:"account_id,omitempty"`

	// FirstName is the account holder's name, used in greetings.
	FirstName string `json:"first_name,omitempty"`

	// PendingPhone is the number the user submitted for verification,
	// kept until the OTP round-trip completes. It may differ from
	// Identifier when the user chats from one number and banks with
	// another.
	PendingPhone string `json:"pending_phone,omitempty"`

	// OTPIssuedAt is set only while the session is awaiting an OTP and
	// cleared on every transition out of that state.
	OTPIssuedAt time.Time `json:"otp_issued_at,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	History []string `json:"history,omitempty"`

	// deleted marks the session for removal (logout). In-memory only.
	deleted bool
}

// New creates a fresh Init session for an identifier.
func New(identifier string, now time.Time) Session {
	return Session{
		Identifier:     identifier,
		State:          StateInit,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// EnterAwaitingPhone moves the session to the phone prompt.
func (s *Session) EnterAwaitingPhone() {
	s.State = StateAwaitingPhone
	s.OTPIssuedAt = time.Time{}
}

// EnterAwaitingOtp records that an OTP was issued for phone at now.
func (s *Session) EnterAwaitingOtp(phone string, now time.Time) {
	s.State = StateAwaitingOtp
	s.PendingPhone = phone
	s.OTPIssuedAt = now
}

// Authenticate completes the login flow, linking the upstream account.
func (s *Session) Authenticate(accountID, firstName string) {
	s.State = StateAuthenticated
	s.AccountID = accountID
	if firstName != "" {
		s.FirstName = firstName
	}
	s.OTPIssuedAt = time.Time{}
}

// Reset returns the session to Init, discarding any partial login.
func (s *Session) Reset() {
	s.State = StateInit
	s.AccountID = ""
	s.PendingPhone = ""
	s.OTPIssuedAt = time.Time{}
}

// Logout marks the session for deletion.
func (s *Session) Logout() {
	s.deleted = true
}

// IsDeleted reports whether the session is marked for deletion.
func (s Session) IsDeleted() bool {
	return s.deleted
}

// IsAuthenticated reports whether the session holds a verified account.
func (s Session) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.AccountID != ""
}

// IsExpired reports whether the session has been idle longer than ttl.
func (s Session) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ttl
}

// OTPExpired reports whether an issued OTP has outlived its validity.
// Sessions not awaiting an OTP never report an expired one.
func (s Session) OTPExpired(now time.Time, ttl time.Duration) bool {
	if s.State != StateAwaitingOtp || s.OTPIssuedAt.IsZero() {
		return false
	}
	return now.Sub(s.OTPIssuedAt) > ttl
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// Remember appends an exchange to the bounded history ring.
func (s *Session) Remember(text string) {
	if text == "" {
		return
	}
	s.History = append(s.History, text)
	if len(s.History) > HistoryLimit {
		s.History = s.History[len(s.History)-HistoryLimit:]
	}
}
