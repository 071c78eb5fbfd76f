package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type captured struct {
	addr string
	to   []string
	msg  string
}

func capturingService(t *testing.T) (*Service, *captured) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "25", From: "noreply@example.com", FromName: "Market Access"})
	c := &captured{}
	svc.sendMail = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		c.addr, c.to, c.msg = addr, to, string(msg)
		return nil
	}
	return svc, c
}

func TestSendMention(t *testing.T) {
	svc, c := capturingService(t)
	err := svc.SendMention("sam@example.com", MentionData{
		RecipientName: "Sam",
		AuthorName:    "Alex",
		BarrierCode:   "B-26-00A",
		BarrierTitle:  "Steel quota",
		Excerpt:       "Can you check <this>?",
		URL:           "https://example.test/barriers/1",
	})
	if err != nil {
		t.Fatalf("SendMention() error = %v", err)
	}
	if c.addr != "smtp.example.com:25" || len(c.to) != 1 || c.to[0] != "sam@example.com" {
		t.Fatalf("unexpected envelope: %s %v", c.addr, c.to)
	}
	for _, want := range []string{
		"Subject: Alex mentioned you on B-26-00A",
		"From: Market Access <noreply@example.com>",
		"Can you check &lt;this&gt;?",
		"text/plain",
	} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendSavedSearchUpdate(t *testing.T) {
	svc, c := capturingService(t)
	if err := svc.SendSavedSearchUpdate("sam@example.com", SavedSearchData{UserName: "Sam", SearchName: "EU", NewCount: 2, UpdatedCount: 1}); err != nil {
		t.Fatalf("SendSavedSearchUpdate() error = %v", err)
	}
	if !strings.Contains(c.msg, "2 new barriers") || !strings.Contains(c.msg, "1 updated barriers") {
		t.Errorf("counts missing from message: %s", c.msg)
	}
}

func TestSendWithoutConfigFails(t *testing.T) {
	if err := NewService(Config{}).SendTopPriorityDecision([]string{"a@example.com"}, TopPriorityData{}); err == nil {
		t.Fatal("expected an error without SMTP configuration")
	}
}
