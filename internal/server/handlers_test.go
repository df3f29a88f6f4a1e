package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jprocode/DocAssist-AI/internal/auth"
	"github.com/jprocode/DocAssist-AI/internal/chat"
	"github.com/jprocode/DocAssist-AI/internal/config"
)

const testPassword = "letmein"

type fixture struct {
	gateway  *httptest.Server
	upstream *httptest.Server
}

// newFixture builds the gateway around a fake document-QA upstream. The
// login session uses a no-op sleeper so backoff delays do not slow tests.
func newFixture(t *testing.T, askLimit int, upstreamHandler http.HandlerFunc) *fixture {
	t.Helper()
	logger := zap.NewNop()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	guard := auth.NewRateGuard(auth.NewMemoryStore(), logger)
	session := auth.NewLoginSession(guard, auth.NewPlainVerifier(testPassword), time.Hour, logger,
		auth.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	asker := chat.NewClient(upstream.URL, 5*time.Second, logger)

	srv := NewServer(session, asker, NewRequestLimiter(askLimit), &config.ServerConfig{}, logger)
	gateway := httptest.NewServer(srv.router())
	t.Cleanup(gateway.Close)

	return &fixture{gateway: gateway, upstream: upstream}
}

func noUpstream(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called")
	}
}

func (f *fixture) login(t *testing.T, identity, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": password})
	req, _ := http.NewRequest(http.MethodPost, f.gateway.URL+"/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", identity)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func authCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == authCookieName {
			return c
		}
	}
	return nil
}

func TestLoginSuccessSetsCookie(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	resp := f.login(t, "10.0.0.1", testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Errorf("body: %v", body)
	}
	c := authCookie(resp)
	if c == nil {
		t.Fatal("no auth cookie set")
	}
	if c.Value != authCookieValue || !c.HttpOnly {
		t.Errorf("cookie: %+v", c)
	}
	if c.Secure {
		t.Error("cookie should not be Secure outside production")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	resp := f.login(t, "10.0.0.2", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Errorf("body: %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "4 attempt(s) remaining") {
		t.Errorf("error message: %q", msg)
	}
	if authCookie(resp) != nil {
		t.Error("denial must not set the auth cookie")
	}
}

func TestLoginLockoutFlow(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))
	const identity = "10.0.0.3"

	var last *http.Response
	for i := 0; i < auth.MaxAttempts; i++ {
		last = f.login(t, identity, "wrong")
	}
	// the locking failure is still a 401, with lockout guidance
	if last.StatusCode != http.StatusUnauthorized {
		t.Fatalf("locking failure status: got %d", last.StatusCode)
	}
	if msg, _ := decodeBody(t, last)["error"].(string); !strings.Contains(msg, "locked") {
		t.Errorf("locking failure message: %q", msg)
	}

	// while locked, even the correct password is rejected with 429
	resp := f.login(t, identity, testPassword)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("locked status: got %d", resp.StatusCode)
	}
	if msg, _ := decodeBody(t, resp)["error"].(string); !strings.Contains(msg, "minute") {
		t.Errorf("locked message: %q", msg)
	}

	// a different identity is unaffected
	if resp := f.login(t, "10.99.99.99", testPassword); resp.StatusCode != http.StatusOK {
		t.Errorf("unrelated identity blocked: %d", resp.StatusCode)
	}
}

func TestLoginMalformedBody(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	for _, body := range []string{`{`, `{}`, `{"password":""}`} {
		resp, err := http.Post(f.gateway.URL+"/api/auth/login", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status %d, want 400", body, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}

func TestCheckEndpoint(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	resp, err := http.Get(f.gateway.URL + "/api/auth/check")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without cookie: status %d", resp.StatusCode)
	}
	if decodeBody(t, resp)["authenticated"] != false {
		t.Error("should report authenticated=false")
	}

	req, _ := http.NewRequest(http.MethodGet, f.gateway.URL+"/api/auth/check", nil)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: authCookieValue})
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK || decodeBody(t, resp2)["authenticated"] != true {
		t.Errorf("with cookie: status %d", resp2.StatusCode)
	}

	// a forged value does not pass
	req3, _ := http.NewRequest(http.MethodGet, f.gateway.URL+"/api/auth/check", nil)
	req3.AddCookie(&http.Cookie{Name: authCookieName, Value: "forged"})
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged cookie: status %d", resp3.StatusCode)
	}
}

func TestLogoutExpiresCookie(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	resp, err := http.Post(f.gateway.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	c := authCookie(resp)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("logout should expire the cookie: %+v", c)
	}
}

func TestAskRequiresAuth(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	resp, err := http.Post(f.gateway.URL+"/api/ask/doc1", "application/json",
		strings.NewReader(`{"question":"hi","stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
}

func askWithCookie(t *testing.T, f *fixture, identity, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, f.gateway.URL+"/api/ask/doc1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", identity)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: authCookieValue})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAskStreamRelay(t *testing.T) {
	frames := []string{
		`{"type":"start","sources":{"document":true,"web":false},"contexts":[{"page_numbers":[1]}]}`,
		`{"type":"chunk","content":"relayed"}`,
		`{"type":"done"}`,
	}
	f := newFixture(t, 20, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, fr := range frames {
			fmt.Fprintf(w, "data: %s\n\n", fr)
		}
	})

	resp := askWithCookie(t, f, "10.1.1.1", `{"question":"hi","stream":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if !strings.Contains(body, `"content":"relayed"`) {
		t.Errorf("relayed chunk missing: %q", body)
	}
	if !strings.Contains(body, `"type":"done"`) {
		t.Errorf("done record missing: %q", body)
	}
	records := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(records) != 3 {
		t.Errorf("records: got %d, want 3", len(records))
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec, "data: ") {
			t.Errorf("record without data prefix: %q", rec)
		}
	}
}

func TestAskNonStreamPassthrough(t *testing.T) {
	f := newFixture(t, 20, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"doc_id": "doc1",
			"answer": "because",
		})
	})

	resp := askWithCookie(t, f, "10.1.1.2", `{"question":"why?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if decodeBody(t, resp)["answer"] != "because" {
		t.Error("answer not passed through")
	}
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))

	for _, body := range []string{`{`, `{"question":""}`} {
		resp := askWithCookie(t, f, "10.1.1.3", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestAskRateLimited(t *testing.T) {
	f := newFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	})

	const identity = "10.1.1.4"
	for i := 0; i < 2; i++ {
		if resp := askWithCookie(t, f, identity, `{"question":"q"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
	}
	resp := askWithCookie(t, f, identity, `{"question":"q"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want 429", resp.StatusCode)
	}
	// other identities still have their own allowance
	if resp := askWithCookie(t, f, "10.8.8.8", `{"question":"q"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("unrelated identity limited: %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 20, noUpstream(t))
	resp, err := http.Get(f.gateway.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
}
