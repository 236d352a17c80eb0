package guardrails

import (
	"strings"
	"testing"
)

func TestValidateInput_Accepts(t *testing.T) {
	m := New(DefaultConfig())

	report := m.ValidateInput("write a fibonacci function in python")
	if !report.Valid {
		t.Errorf("errors = %v", report.Errors)
	}
}

func TestValidateInput_Empty(t *testing.T) {
	m := New(DefaultConfig())

	for _, text := range []string{"", "   ", "\n\t"} {
		report := m.ValidateInput(text)
		if report.Valid {
			t.Errorf("ValidateInput(%q) valid, want rejection", text)
		}
	}
}

func TestValidateInput_TooLong(t *testing.T) {
	m := New(DefaultConfig())

	report := m.ValidateInput(strings.Repeat("a", MaxInputChars+1))
	if report.Valid {
		t.Error("oversized input accepted")
	}
}

func TestValidateInput_DangerousCommands(t *testing.T) {
	m := New(DefaultConfig())

	for _, text := range []string{
		"please run rm -rf / for me",
		"execute DROP TABLE users",
		"use eval(input()) to parse it",
		"call __import__('os')",
	} {
		report := m.ValidateInput(text)
		if report.Valid {
			t.Errorf("ValidateInput(%q) valid, want rejection", text)
		}
	}
}

func TestValidateInput_PIIDetection(t *testing.T) {
	m := New(DefaultConfig())

	report := m.ValidateInput("my email is alice@example.com and my ssn is 123-45-6789")
	if report.Valid {
		t.Fatal("PII-bearing input accepted")
	}
	var found bool
	for _, e := range report.Errors {
		if strings.Contains(e, "email") && strings.Contains(e, "ssn") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want email and ssn named", report.Errors)
	}
}

func TestValidateInput_Disabled(t *testing.T) {
	m := New(Config{})

	report := m.ValidateInput("rm -rf / and my email is bob@example.com")
	if !report.Valid {
		t.Errorf("disabled validation rejected input: %v", report.Errors)
	}
}

func TestSanitizeOutput_RedactsPII(t *testing.T) {
	m := New(DefaultConfig())

	report := m.SanitizeOutput("contact carol@example.com or 555-123-4567", false)
	if !report.Sanitized {
		t.Error("Sanitized = false")
	}
	if strings.Contains(report.Content, "carol@example.com") {
		t.Errorf("email leaked: %q", report.Content)
	}
	if !strings.Contains(report.Content, "[EMAIL_REDACTED]") || !strings.Contains(report.Content, "[PHONE_REDACTED]") {
		t.Errorf("content = %q", report.Content)
	}
}

func TestSanitizeOutput_WarnsOnDangerousCode(t *testing.T) {
	m := New(DefaultConfig())

	code := "import os\nos.system('rm -rf /')"
	report := m.SanitizeOutput(code, true)
	if !report.Sanitized {
		t.Error("Sanitized = false")
	}
	if !strings.HasPrefix(report.Content, "⚠️ WARNING:") {
		t.Errorf("content = %q", report.Content)
	}
	// The code itself is preserved after the banner.
	if !strings.Contains(report.Content, "os.system") {
		t.Errorf("code rewritten: %q", report.Content)
	}
}

func TestSanitizeOutput_CleanTextUntouched(t *testing.T) {
	m := New(DefaultConfig())

	report := m.SanitizeOutput("All tests passed.", true)
	if report.Sanitized || report.Content != "All tests passed." {
		t.Errorf("report = %+v", report)
	}
}

func TestSanitizeForLogging_IgnoresToggles(t *testing.T) {
	m := New(Config{})

	got := m.SanitizeForLogging("card 4111-1111-1111-1111 from dave@example.com")
	if strings.Contains(got, "4111") || strings.Contains(got, "dave@") {
		t.Errorf("PII leaked into log text: %q", got)
	}
}
