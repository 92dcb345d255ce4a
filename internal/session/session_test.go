package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driveteam/scoutd/internal/perm"
)

func managerWithAccount(t *testing.T, ttl time.Duration) (*Manager, Identity) {
	t.Helper()
	ident := Identity{
		AccountID: "acct-1",
		Name:      "lead scout",
		Roles: []perm.Role{{
			Name:     "scout",
			Universe: "2122",
		}},
	}
	roster := NewStatic()
	roster.Add(ident)
	return NewManager(roster, ttl), ident
}

func requestWithCookie(ssid string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if ssid != "" {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: ssid})
	}
	return r
}

func TestIssueAndIdentify(t *testing.T) {
	m, want := managerWithAccount(t, 0)

	w := httptest.NewRecorder()
	ssid := m.Issue(w, "acct-1")
	if ssid == "" {
		t.Fatal("expected non-empty ssid")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != ssid {
		t.Fatalf("expected %s cookie with value %q, got %v", CookieName, ssid, cookie)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be http-only")
	}

	gotSSID, ident, err := m.Identify(requestWithCookie(ssid))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if gotSSID != ssid {
		t.Errorf("ssid = %q, want %q", gotSSID, ssid)
	}
	if ident == nil || ident.AccountID != want.AccountID {
		t.Fatalf("identity = %+v, want account %q", ident, want.AccountID)
	}
	if len(ident.Roles) != 1 || ident.Roles[0].Universe != "2122" {
		t.Errorf("roles not resolved: %+v", ident.Roles)
	}
}

func TestIdentify_AnonymousWithoutCookie(t *testing.T) {
	m, _ := managerWithAccount(t, 0)

	ssid, ident, err := m.Identify(requestWithCookie(""))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if ssid != "" || ident != nil {
		t.Fatalf("expected anonymous, got ssid=%q ident=%+v", ssid, ident)
	}
}

func TestIdentify_UnknownSSIDIsAnonymous(t *testing.T) {
	m, _ := managerWithAccount(t, 0)

	ssid, ident, err := m.Identify(requestWithCookie("not-a-session"))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if ssid != "not-a-session" {
		t.Errorf("ssid should pass through for live-channel reuse, got %q", ssid)
	}
	if ident != nil {
		t.Fatalf("expected nil identity, got %+v", ident)
	}
}

func TestIdentify_ExpiredSessionIsAnonymous(t *testing.T) {
	m, _ := managerWithAccount(t, time.Nanosecond)

	w := httptest.NewRecorder()
	ssid := m.Issue(w, "acct-1")
	time.Sleep(time.Millisecond)

	_, ident, err := m.Identify(requestWithCookie(ssid))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if ident != nil {
		t.Fatalf("expected expired session to resolve anonymous, got %+v", ident)
	}
}

func TestRevoke(t *testing.T) {
	m, _ := managerWithAccount(t, 0)

	w := httptest.NewRecorder()
	ssid := m.Issue(w, "acct-1")
	m.Revoke(ssid)

	_, ident, err := m.Identify(requestWithCookie(ssid))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if ident != nil {
		t.Fatal("expected revoked session to resolve anonymous")
	}
}

func TestStatic_UnknownAccount(t *testing.T) {
	roster := NewStatic()
	ident, err := roster.Resolve(t.Context(), "ghost")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ident != nil {
		t.Fatalf("expected nil for unknown account, got %+v", ident)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ident := &Identity{AccountID: "acct-1", Admin: true}
	ctx := WithIdentity(t.Context(), ident)
	if got := FromContext(ctx); got != ident {
		t.Fatalf("FromContext = %+v, want %+v", got, ident)
	}
	if got := FromContext(t.Context()); got != nil {
		t.Fatalf("expected nil identity from bare context, got %+v", got)
	}
}
