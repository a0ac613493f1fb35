package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewTraceID returns "trace_" followed by 16 random hex characters.
func NewTraceID() string {
	u := uuid.New()
	return "trace_" + hex.EncodeToString(u[:8])
}

// HashSender is the one-way identifier persisted in place of the raw sender.
// It returns "" for an empty sender.
func HashSender(sender string) string {
	if sender == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sender))
	return hex.EncodeToString(sum[:])
}

// RedactSender masks all but the last four characters.
func RedactSender(sender string) string {
	trimmed := strings.TrimSpace(sender)
	if trimmed == "" {
		return ""
	}
	r := []rune(trimmed)
	if len(r) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
