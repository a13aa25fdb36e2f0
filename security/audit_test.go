package security

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return NewAuditor(logger, enabled), buf
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newTestAuditor(false)

	auditor.LogTokenIssued("42", "client-1", "1.2.3.4", "password")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor should not log, got %q", buf.String())
	}
}

func TestAuditorHashesUserID(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogTokenIssued("42", "client-1", "1.2.3.4", "password")

	out := buf.String()
	if strings.Contains(out, `"user_id":"42"`) {
		t.Error("raw user ID should not appear in audit log")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse audit log entry: %v", err)
	}
	hash, ok := entry["user_id_hash"].(string)
	if !ok || len(hash) != 16 {
		t.Errorf("user_id_hash = %v, want 16 hex chars", entry["user_id_hash"])
	}
	if entry["event_type"] != EventTokenIssued {
		t.Errorf("event_type = %v, want %q", entry["event_type"], EventTokenIssued)
	}
	if entry["client_id"] != "client-1" {
		t.Errorf("client_id = %v, want client-1", entry["client_id"])
	}
}

func TestAuditorEventTypes(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{
			name: "auth failure",
			log:  func(a *Auditor) { a.LogAuthFailure("7", "client-1", "1.2.3.4", "wrong password") },
			want: EventAuthFailure,
		},
		{
			name: "rate limit exceeded",
			log:  func(a *Auditor) { a.LogRateLimitExceeded("1.2.3.4", "7") },
			want: EventRateLimitExceeded,
		},
		{
			name: "client registered",
			log:  func(a *Auditor) { a.LogClientRegistered("client-1", "1.2.3.4", []string{"password"}) },
			want: EventClientRegistered,
		},
		{
			name: "user registered",
			log:  func(a *Auditor) { a.LogUserRegistered("7", "1.2.3.4") },
			want: EventUserRegistered,
		},
		{
			name: "code issued",
			log:  func(a *Auditor) { a.LogCodeIssued("7", "client-1", "1.2.3.4") },
			want: EventCodeIssued,
		},
		{
			name: "code redeemed",
			log:  func(a *Auditor) { a.LogCodeRedeemed("7", "client-1", "1.2.3.4") },
			want: EventCodeRedeemed,
		},
		{
			name: "token refreshed",
			log:  func(a *Auditor) { a.LogTokenRefreshed("7", "client-1", "1.2.3.4") },
			want: EventTokenRefreshed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("audit log missing event type %q: %s", tt.want, buf.String())
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(empty) = %q, want <empty>", got)
	}
	a := hashForLogging("user-1")
	b := hashForLogging("user-1")
	if a != b {
		t.Error("hash should be deterministic")
	}
	if a == hashForLogging("user-2") {
		t.Error("different inputs should hash differently")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
