package channels

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/scalytics/skytext/internal/agent"
	"github.com/scalytics/skytext/internal/tracestore"
)

type stubResponder struct {
	mu    sync.Mutex
	calls []agent.Input
	reply agent.Reply
	err   error
}

func (s *stubResponder) Handle(_ context.Context, in agent.Input) (agent.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, in)
	return s.reply, s.err
}

const testToken = "test-auth-token"

func smsForm(body, sid string) url.Values {
	f := url.Values{}
	f.Set("From", "+15555550123")
	if body != "" {
		f.Set("Body", body)
	}
	if sid != "" {
		f.Set("MessageSid", sid)
	}
	return f
}

func flatten(f url.Values) map[string]string {
	m := make(map[string]string, len(f))
	for k := range f {
		m[k] = f.Get(k)
	}
	return m
}

func postWebhook(t *testing.T, h http.Handler, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://example.test/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(TwilioSignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignRoundTrip(t *testing.T) {
	params := map[string]string{"MessageSid": "SM1", "Body": "hi", "From": "+1"}
	u := "https://sms.example.com/webhooks/twilio/sms"
	sig := Sign(testToken, u, params)

	if !VerifySignature(testToken, u, params, sig) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature("other-token", u, params, sig) {
		t.Fatal("signature must depend on the token")
	}
	if VerifySignature(testToken, u+"?x=1", params, sig) {
		t.Fatal("signature must depend on the url")
	}
	params["Body"] = "tampered"
	if VerifySignature(testToken, u, params, sig) {
		t.Fatal("signature must depend on params")
	}
}

func TestSignKnownVector(t *testing.T) {
	// Example from the provider's webhook security guide.
	params := map[string]string{
		"CallSid": "CA1234567890ABCDE",
		"Caller":  "+12349013030",
		"Digits":  "1234",
		"From":    "+12349013030",
		"To":      "+18005551212",
	}
	got := Sign("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	stats := &Stats{}
	resp := &stubResponder{}
	h := NewTwilio(TwilioConfig{AuthToken: testToken}, resp, stats)

	rec := postWebhook(t, h, smsForm("hi", "SM1"), "")
	if rec.Code != http.StatusForbidden || strings.TrimSpace(rec.Body.String()) != "Missing signature" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if len(resp.calls) != 0 {
		t.Fatal("responder must not run")
	}
	if req, errs := stats.Snapshot(); req != 1 || errs != 1 {
		t.Fatalf("unexpected stats %d/%d", req, errs)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	h := NewTwilio(TwilioConfig{AuthToken: testToken}, &stubResponder{}, nil)

	rec := postWebhook(t, h, smsForm("hi", "SM1"), "bm90LWEtc2lnbmF0dXJl")
	if rec.Code != http.StatusForbidden || strings.TrimSpace(rec.Body.String()) != "Invalid signature" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	cases := map[string]url.Values{
		"missing body": smsForm("", "SM1"),
		"missing sid":  smsForm("hi", ""),
	}
	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			h := NewTwilio(TwilioConfig{AuthToken: testToken}, &stubResponder{}, nil)
			sig := Sign(testToken, "http://example.test/webhooks/twilio/sms", flatten(form))
			rec := postWebhook(t, h, form, sig)
			if rec.Code != http.StatusBadRequest || strings.TrimSpace(rec.Body.String()) != "Invalid payload" {
				t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	stats := &Stats{}
	resp := &stubResponder{reply: agent.Reply{ResponseText: "Seattle: Clear sky. High 20C / Low 10C.", TraceID: "trace_1"}}
	h := NewTwilio(TwilioConfig{AuthToken: testToken}, resp, stats)

	form := smsForm("Weather in Seattle today?", "SM42")
	rec := postWebhook(t, h, form, Sign(testToken, "http://example.test/webhooks/twilio/sms", flatten(form)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("unexpected content type %q", ct)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "webhook_reply", rec.Body.Bytes())

	if len(resp.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(resp.calls))
	}
	in := resp.calls[0]
	if in.MessageID != "SM42" || in.From != "+15555550123" || in.Body != "Weather in Seattle today?" || in.ReceivedAt.IsZero() {
		t.Fatalf("unexpected input %+v", in)
	}
	if req, errs := stats.Snapshot(); req != 1 || errs != 0 {
		t.Fatalf("unexpected stats %d/%d", req, errs)
	}
}

func TestWebhookWithoutTokenSkipsVerification(t *testing.T) {
	resp := &stubResponder{reply: agent.Reply{ResponseText: "ok"}}
	h := NewTwilio(TwilioConfig{}, resp, nil)

	rec := postWebhook(t, h, smsForm("hi", "SM1"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestWebhookStoreFailure(t *testing.T) {
	stats := &Stats{}
	h := NewTwilio(TwilioConfig{}, &stubResponder{err: errors.New("db down")}, stats)

	rec := postWebhook(t, h, smsForm("hi", "SM1"), "")
	if rec.Code != http.StatusInternalServerError || strings.TrimSpace(rec.Body.String()) != "Internal error" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if _, errs := stats.Snapshot(); errs != 1 {
		t.Fatalf("expected one error, got %d", errs)
	}
}

func TestWebhookUsesPublicBaseURL(t *testing.T) {
	resp := &stubResponder{reply: agent.Reply{ResponseText: "ok"}}
	h := NewTwilio(TwilioConfig{AuthToken: testToken, PublicBaseURL: "https://sms.example.com/"}, resp, nil)

	form := smsForm("hi", "SM1")
	sig := Sign(testToken, "https://sms.example.com/webhooks/twilio/sms", flatten(form))
	if rec := postWebhook(t, h, form, sig); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestURLHonorsForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://internal:3000/webhooks/twilio/sms?x=1", nil)
	req.Host = "sms.example.com"
	req.Header.Set("X-Forwarded-Proto", "https, http")
	if got := RequestURL(req, ""); got != "https://sms.example.com/webhooks/twilio/sms?x=1" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	h := NewTwilio(TwilioConfig{}, &stubResponder{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/twilio/sms", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestBuildTwiMLEscapes(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "twiml_escaped", []byte(BuildTwiML(`Tom & Jerry's <"forecast">`)))
}

// End to end through the real guard: a redelivery gets the same body.
func TestWebhookRedeliveryIsByteIdentical(t *testing.T) {
	store := tracestore.NewMemoryStore()
	runner := &countingRunner{}
	g := agent.NewGuard(store, runner, agent.GuardOptions{})
	h := NewTwilio(TwilioConfig{}, g, nil)

	first := postWebhook(t, h, smsForm("weather in Boston", "SM-redeliver"), "")
	second := postWebhook(t, h, smsForm("weather in Boston", "SM-redeliver"), "")
	a, _ := io.ReadAll(first.Body)
	b, _ := io.ReadAll(second.Body)
	if string(a) != string(b) {
		t.Fatalf("responses differ:\n%s\n%s", a, b)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one run, got %d", runner.calls)
	}
}

type countingRunner struct {
	calls int
}

func (r *countingRunner) Run(_ context.Context, in agent.Input, _ agent.RunOptions) (agent.Result, error) {
	r.calls++
	return agent.Result{
		ResponseText: "Boston: Clear sky.",
		Trace:        &tracestore.Trace{TraceID: "trace_run", Input: tracestore.Input{MessageID: in.MessageID}},
	}, nil
}
