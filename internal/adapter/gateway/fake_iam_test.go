package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeIAM is a stateful stand-in for the IAM authority: it issues tokens,
// honours revocation and enforces single-use one-time codes.
type fakeIAM struct {
	mu      sync.Mutex
	tokens  map[string]bool
	otps    map[string]string
	calls   map[string]int
	nextTok int
}

func newFakeIAM(t *testing.T) (*fakeIAM, *httptest.Server) {
	t.Helper()
	f := &fakeIAM{
		tokens: make(map[string]bool),
		otps:   make(map[string]string),
		calls:  make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", f.login)
	mux.HandleFunc("GET /api/v1/auth/me", f.me)
	mux.HandleFunc("POST /api/v1/auth/logout-all", f.logoutAll)
	mux.HandleFunc("POST /api/v1/auth/send-otp", f.sendOTP)
	mux.HandleFunc("POST /api/v1/auth/login-with-phone", f.loginWithPhone)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeIAM) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeIAM) issue() string {
	f.nextTok++
	tok := "tok-" + strings.Repeat("x", f.nextTok)
	f.tokens[tok] = true
	return tok
}

func (f *fakeIAM) userBody(tok string) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":    42,
			"name":  "Jane",
			"email": "jane@example.com",
			"roles": []any{
				map[string]any{"name": "editor", "permissions": []any{"posts.edit", map[string]any{"name": "posts.view"}}},
			},
		},
		"access_token": tok,
		"token_type":   "Bearer",
		"permissions":  []any{"profile.view"},
	}
}

func (f *fakeIAM) login(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["email"] != "jane@example.com" || body["password"] != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, f.userBody(f.issue()))
}

func (f *fakeIAM) bearer(r *http.Request) (string, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return tok, f.tokens[tok]
}

func (f *fakeIAM) me(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	tok, ok := f.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
		return
	}
	body := f.userBody(tok)
	delete(body, "access_token")
	writeJSON(w, http.StatusOK, body)
}

func (f *fakeIAM) logoutAll(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	if _, ok := f.bearer(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
		return
	}
	// every token belongs to the same user here
	for tok := range f.tokens {
		f.tokens[tok] = false
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeIAM) sendOTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !strings.HasPrefix(body["phone"], "+") {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  map[string][]string{"phone": {"The phone format is invalid."}},
		})
		return
	}
	f.otps[body["phone"]] = "123456"
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP sent", "expires_in": 300})
}

func (f *fakeIAM) loginWithPhone(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	code, ok := f.otps[body["phone"]]
	if !ok || code != body["otp"] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid or expired OTP"})
		return
	}
	delete(f.otps, body["phone"])
	writeJSON(w, http.StatusOK, f.userBody(f.issue()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
