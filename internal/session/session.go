// Package session resolves callers to identities and role sets. Sessions are
// identified by an ssid cookie; account and role resolution is pluggable so
// the server can run against a static roster or an external identity system.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driveteam/scoutd/internal/perm"
)

// CookieName is the session cookie carrying the ssid. The same id keys the
// caller's logical live connection.
const CookieName = "ssid"

// DefaultTTL is how long an issued session lives without renewal.
const DefaultTTL = 30 * 24 * time.Hour

// Identity is an authenticated caller.
type Identity struct {
	AccountID string
	Name      string
	Roles     []perm.Role
	Admin     bool
}

// Resolver maps a session's account to an identity and its roles. Returns
// (nil, nil) for unknown accounts; the caller proceeds anonymously.
type Resolver interface {
	Resolve(ctx context.Context, accountID string) (*Identity, error)
}

type entry struct {
	accountID string
	expires   time.Time
}

// Manager issues ssid cookies and tracks the ssid to account binding.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	resolver Resolver
}

func NewManager(resolver Resolver, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]entry),
		ttl:      ttl,
		resolver: resolver,
	}
}

// Issue creates a session for an account and sets the ssid cookie.
func (m *Manager) Issue(w http.ResponseWriter, accountID string) string {
	ssid := uuid.NewString()
	m.mu.Lock()
	m.sessions[ssid] = entry{accountID: accountID, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    ssid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl / time.Second),
	})
	return ssid
}

// Revoke destroys a session.
func (m *Manager) Revoke(ssid string) {
	m.mu.Lock()
	delete(m.sessions, ssid)
	m.mu.Unlock()
}

// SSID extracts the session id from the request cookie, or "".
func SSID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Identify resolves the request's session to an identity. Anonymous or
// expired sessions yield (ssid, nil, nil); handlers decide what anonymity
// means per action.
func (m *Manager) Identify(r *http.Request) (string, *Identity, error) {
	ssid := SSID(r)
	if ssid == "" {
		return "", nil, nil
	}

	m.mu.Lock()
	e, ok := m.sessions[ssid]
	if ok && time.Now().After(e.expires) {
		delete(m.sessions, ssid)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return ssid, nil, nil
	}

	ident, err := m.resolver.Resolve(r.Context(), e.accountID)
	if err != nil {
		return ssid, nil, err
	}
	return ssid, ident, nil
}

// Lookup resolves an account directly, bypassing any session. Used when
// binding an account to a fresh session.
func (m *Manager) Lookup(ctx context.Context, accountID string) (*Identity, error) {
	return m.resolver.Resolve(ctx, accountID)
}

type ctxKey struct{}

// WithIdentity stashes the identity on the context for downstream handlers.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, ident)
}

// FromContext returns the identity placed by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(ctxKey{}).(*Identity)
	return ident
}

// Static is a Resolver over a fixed roster, typically built from the config
// file's account declarations.
type Static struct {
	mu       sync.RWMutex
	accounts map[string]Identity
}

func NewStatic() *Static {
	return &Static{accounts: make(map[string]Identity)}
}

// Add registers or replaces an account.
func (s *Static) Add(ident Identity) {
	s.mu.Lock()
	s.accounts[ident.AccountID] = ident
	s.mu.Unlock()
}

func (s *Static) Resolve(_ context.Context, accountID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	out := ident
	return &out, nil
}
