package channels

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/scalytics/skytext/internal/agent"
)

// TwilioSignatureHeader carries the request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

const maxFormBytes = 64 << 10

// TwilioConfig configures the SMS webhook.
type TwilioConfig struct {
	// AuthToken signs requests. Verification is skipped when it is empty.
	AuthToken string
	// PublicBaseURL is the externally visible scheme and host used when
	// recomputing signatures behind a proxy. When empty the URL is rebuilt
	// from the request.
	PublicBaseURL string
}

// Twilio serves the inbound SMS webhook.
type Twilio struct {
	cfg       TwilioConfig
	responder Responder
	stats     *Stats
	now       func() time.Time
}

// NewTwilio creates the webhook handler. stats may be nil.
func NewTwilio(cfg TwilioConfig, responder Responder, stats *Stats) *Twilio {
	return &Twilio{cfg: cfg, responder: responder, stats: stats, now: time.Now}
}

// Payload is the subset of the webhook form the pipeline uses.
type Payload struct {
	From       string
	Body       string
	MessageSid string
}

// ParsePayload validates the form fields. Body and MessageSid are required.
func ParsePayload(params map[string]string) (Payload, bool) {
	p := Payload{
		From:       params["From"],
		Body:       params["Body"],
		MessageSid: params["MessageSid"],
	}
	if p.Body == "" || p.MessageSid == "" {
		return Payload{}, false
	}
	return p, true
}

func (h *Twilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.stats.request()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.stats.failure()
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	if token := strings.TrimSpace(h.cfg.AuthToken); token != "" {
		sig := r.Header.Get(TwilioSignatureHeader)
		if sig == "" {
			h.stats.failure()
			http.Error(w, "Missing signature", http.StatusForbidden)
			return
		}
		if !VerifySignature(token, RequestURL(r, h.cfg.PublicBaseURL), params, sig) {
			h.stats.failure()
			slog.Warn("Rejected webhook with invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	p, ok := ParsePayload(params)
	if !ok {
		h.stats.failure()
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	reply, err := h.responder.Handle(r.Context(), agent.Input{
		From:       p.From,
		Body:       p.Body,
		MessageID:  p.MessageSid,
		ReceivedAt: h.now(),
	})
	if err != nil {
		h.stats.failure()
		slog.Error("SMS processing failed", "message_id", p.MessageSid, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("sms_processed", "trace_id", reply.TraceID, "cached", reply.Cached)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BuildTwiML(reply.ResponseText)))
}

// VerifySignature checks a webhook signature: base64 HMAC-SHA1 keyed by the
// auth token over the URL followed by every parameter name and value in
// sorted name order.
func VerifySignature(authToken, url string, params map[string]string, signature string) bool {
	return hmac.Equal([]byte(Sign(authToken, url, params)), []byte(signature))
}

// Sign computes the signature VerifySignature expects.
func Sign(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RequestURL is the URL the sender signed.
func RequestURL(r *http.Request, publicBaseURL string) string {
	if base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// BuildTwiML wraps message in a messaging response document.
func BuildTwiML(message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n<Response><Message>" + xmlEscaper.Replace(message) + "</Message></Response>"
}
