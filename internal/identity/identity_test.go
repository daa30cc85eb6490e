package identity

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestDeriveUserIDDeterministic(t *testing.T) {
	t.Parallel()
	a := DeriveUserID("foo@bar.com")
	b := DeriveUserID("foo@bar.com")
	if a != b {
		t.Fatalf("DeriveUserID not deterministic: %q vs %q", a, b)
	}
	if !regexp.MustCompile(`^u_[0-9a-f]{16}$`).MatchString(a) {
		t.Errorf("unexpected id format %q", a)
	}
	if DeriveUserID("  FOO@bar.com ") != a {
		t.Error("case and surrounding whitespace should not change the id")
	}
}

func TestDeriveUserIDDistinguishesSharedPrefixes(t *testing.T) {
	t.Parallel()
	if DeriveUserID("alexander.one@example.com") == DeriveUserID("alexander.two@example.com") {
		t.Error("distinct emails with a long shared prefix produced the same id")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"alex@example.com": "alex",
		"noatsign":         "noatsign",
		"@example.com":     "@example.com",
	}
	for in, want := range tests {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAvatarURL(t *testing.T) {
	t.Parallel()
	if got := AvatarURL("u_1"); got != "https://api.dicebear.com/7.x/avataaars/svg?seed=u_1" {
		t.Errorf("AvatarURL = %q", got)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	t.Parallel()
	var gotID, gotName string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotName = UsernameFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/general/ws?userId=u_1&userName=alex", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "u_1" || gotName != "alex" {
		t.Errorf("context identity = (%q, %q), want (u_1, alex)", gotID, gotName)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "u_2")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "u_2" || gotName != "u_2" {
		t.Errorf("header identity = (%q, %q), want (u_2, u_2)", gotID, gotName)
	}
}
