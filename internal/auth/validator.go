// Package auth resolves a stream connection's cookie to a staff identity
// bound to exactly one tenant.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/domain"
)

// ErrAuthenticationFailed matches every rejection returned by Validate.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Reason is a log and metric label for a rejection. It is never sent to clients.
type Reason string

const (
	ReasonNoCookie       Reason = "no_cookie"
	ReasonBadCookie      Reason = "bad_cookie"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonNoSession      Reason = "no_session"
	ReasonBadSession     Reason = "bad_session"
	ReasonUnknownUser    Reason = "unknown_user"
	ReasonRoleNotAllowed Reason = "role_not_allowed"
	ReasonUnknownTenant  Reason = "unknown_tenant"
	ReasonTenantInactive Reason = "tenant_inactive"
	ReasonLookupFailed   Reason = "lookup_failed"
)

type Rejection struct {
	Reason Reason
	Cause  error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("authentication failed (%s): %v", r.Reason, r.Cause)
	}
	return fmt.Sprintf("authentication failed (%s)", r.Reason)
}

func (r *Rejection) Is(target error) bool { return target == ErrAuthenticationFailed }
func (r *Rejection) Unwrap() error        { return r.Cause }

func reject(reason Reason, cause error) error {
	return &Rejection{Reason: reason, Cause: cause}
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a rejection.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

const signedPrefix = "s:"

type Config struct {
	CookieName string
	// Secret verifies the cookie signature when set.
	Secret string
	Clock  clockwork.Clock
}

type Validator struct {
	sessions   domain.SessionStore
	users      domain.UserRepository
	tenants    domain.TenantRepository
	cookieName string
	secret     []byte
	clock      clockwork.Clock
}

func NewValidator(sessions domain.SessionStore, users domain.UserRepository, tenants domain.TenantRepository, cfg Config) *Validator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Validator{
		sessions:   sessions,
		users:      users,
		tenants:    tenants,
		cookieName: cfg.CookieName,
		secret:     []byte(cfg.Secret),
		clock:      clock,
	}
}

// ValidateRequest validates the cookies of an HTTP request.
func (v *Validator) ValidateRequest(r *http.Request) (domain.Binding, error) {
	return v.Validate(r.Context(), strings.Join(r.Header.Values("Cookie"), "; "))
}

// Validate resolves a raw Cookie header to the staff user and tenant it
// belongs to. It only reads.
func (v *Validator) Validate(ctx context.Context, cookieHeader string) (domain.Binding, error) {
	sid, err := v.sessionKey(cookieHeader)
	if err != nil {
		return domain.Binding{}, err
	}

	record, err := v.sessions.GetActive(ctx, sid, v.clock.Now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Binding{}, reject(ReasonNoSession, nil)
	}
	if err != nil {
		return domain.Binding{}, reject(ReasonLookupFailed, fmt.Errorf("session lookup: %w", err))
	}

	userID, err := passportUser(record.Data)
	if err != nil {
		return domain.Binding{}, reject(ReasonBadSession, err)
	}

	user, err := v.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Binding{}, reject(ReasonUnknownUser, nil)
	}
	if err != nil {
		return domain.Binding{}, reject(ReasonLookupFailed, fmt.Errorf("user lookup: %w", err))
	}
	if !user.Role.IsStaff() {
		return domain.Binding{}, reject(ReasonRoleNotAllowed, fmt.Errorf("role %q", user.Role))
	}

	tenant, err := v.tenantOf(ctx, user)
	if errors.Is(err, domain.ErrTenantNotFound) {
		return domain.Binding{}, reject(ReasonUnknownTenant, nil)
	}
	if err != nil {
		return domain.Binding{}, reject(ReasonLookupFailed, fmt.Errorf("tenant lookup: %w", err))
	}
	if !tenant.Status.AllowsStreaming() {
		return domain.Binding{}, reject(ReasonTenantInactive, fmt.Errorf("status %q", tenant.Status))
	}

	return domain.Binding{UserID: user.ID, TenantID: tenant.ID, Role: user.Role}, nil
}

func (v *Validator) tenantOf(ctx context.Context, user *domain.User) (*domain.Tenant, error) {
	if user.TenantID != nil {
		return v.tenants.GetByID(ctx, *user.TenantID)
	}
	return v.tenants.GetByOwnerUserID(ctx, user.ID)
}

// sessionKey finds the session cookie and strips the "s:" prefix and
// trailing signature to recover the store key.
func (v *Validator) sessionKey(cookieHeader string) (string, error) {
	if cookieHeader == "" {
		return "", reject(ReasonNoCookie, nil)
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return "", reject(ReasonBadCookie, err)
	}

	var raw string
	for _, c := range cookies {
		if c.Name == v.cookieName {
			raw = c.Value
			break
		}
	}
	if raw == "" {
		return "", reject(ReasonNoCookie, nil)
	}

	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", reject(ReasonBadCookie, err)
	}
	return Unsign(value, v.secret)
}

// Unsign returns the session key of a signed cookie value "s:<sid>.<sig>".
// The signature is checked only when secret is non-empty.
func Unsign(value string, secret []byte) (string, error) {
	signed, ok := strings.CutPrefix(value, signedPrefix)
	if !ok {
		return "", reject(ReasonBadCookie, errors.New("unsigned session cookie"))
	}
	dot := strings.LastIndexByte(signed, '.')
	if dot <= 0 || dot == len(signed)-1 {
		return "", reject(ReasonBadCookie, errors.New("missing signature"))
	}
	sid, sig := signed[:dot], signed[dot+1:]

	if len(secret) > 0 && !hmac.Equal([]byte(sig), []byte(signature(sid, secret))) {
		return "", reject(ReasonBadSignature, nil)
	}
	return sid, nil
}

// Sign produces the cookie value the session middleware would issue for sid.
func Sign(sid string, secret []byte) string {
	return signedPrefix + sid + "." + signature(sid, secret)
}

func signature(sid string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sid))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
}

type sessionData struct {
	Passport struct {
		User json.RawMessage `json:"user"`
	} `json:"passport"`
}

// passportUser extracts the user id stored by the login flow at passport.user.
func passportUser(data json.RawMessage) (uuid.UUID, error) {
	var sess sessionData
	if err := json.Unmarshal(data, &sess); err != nil {
		return uuid.Nil, fmt.Errorf("decode session: %w", err)
	}
	if len(sess.Passport.User) == 0 {
		return uuid.Nil, errors.New("session carries no identity")
	}

	var id string
	if err := json.Unmarshal(sess.Passport.User, &id); err != nil {
		return uuid.Nil, fmt.Errorf("passport.user: %w", err)
	}
	userID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("passport.user: %w", err)
	}
	return userID, nil
}
