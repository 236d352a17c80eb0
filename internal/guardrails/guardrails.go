// Package guardrails validates user input and sanitizes model output.
// PII is detected by pattern; dangerous command fragments in input are
// rejected, in generated code they are flagged with a warning banner.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxInputChars bounds a single user message.
const MaxInputChars = 10000

// piiPatterns maps a PII category to its detection pattern.
var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	"phone":       regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
}

// piiOrder keeps reporting and redaction deterministic.
var piiOrder = []string{"email", "phone", "ssn", "credit_card"}

// dangerousPatterns match command fragments that should never be run
// blindly against a host or database.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)del\s+/[fF]\s+/[qQ]`),
	regexp.MustCompile(`(?i)format\s+[cC]:`),
	regexp.MustCompile(`(?i)DROP\s+DATABASE`),
	regexp.MustCompile(`(?i)DROP\s+TABLE`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)__import__\s*\(`),
}

// Config toggles the individual checks. The zero value disables
// everything; use DefaultConfig for the standard posture.
type Config struct {
	ValidateInput  bool
	SanitizeOutput bool
	DetectPII      bool
}

// DefaultConfig enables every check.
func DefaultConfig() Config {
	return Config{ValidateInput: true, SanitizeOutput: true, DetectPII: true}
}

// Middleware applies the configured checks. Safe for concurrent use.
type Middleware struct {
	config Config
}

// New creates guardrails with the given configuration.
func New(cfg Config) *Middleware {
	return &Middleware{config: cfg}
}

// InputReport is the outcome of validating one user message.
type InputReport struct {
	Valid  bool
	Errors []string
}

// ValidateInput checks a user message before it reaches the loop.
func (m *Middleware) ValidateInput(text string) InputReport {
	if !m.config.ValidateInput {
		return InputReport{Valid: true}
	}

	var errs []string
	if strings.TrimSpace(text) == "" {
		errs = append(errs, "Input cannot be empty")
	}
	if len(text) > MaxInputChars {
		errs = append(errs, fmt.Sprintf("Input too long (max %d characters)", MaxInputChars))
	}
	for _, pat := range dangerousPatterns {
		if pat.MatchString(text) {
			errs = append(errs, "Potentially dangerous command detected")
			break
		}
	}
	if m.config.DetectPII {
		if found := detectPII(text); len(found) > 0 {
			errs = append(errs, "PII detected: "+strings.Join(found, ", "))
		}
	}

	return InputReport{Valid: len(errs) == 0, Errors: errs}
}

// OutputReport is the outcome of sanitizing model output.
type OutputReport struct {
	Content   string
	Sanitized bool
}

// SanitizeOutput redacts PII from model output. When containsCode is
// set and a dangerous fragment appears, a warning banner is prepended
// rather than rewriting the code.
func (m *Middleware) SanitizeOutput(text string, containsCode bool) OutputReport {
	if !m.config.SanitizeOutput {
		return OutputReport{Content: text}
	}

	sanitized := text
	changed := false

	if m.config.DetectPII {
		for _, name := range piiOrder {
			pat := piiPatterns[name]
			if pat.MatchString(sanitized) {
				sanitized = pat.ReplaceAllString(sanitized, redactionTag(name))
				changed = true
			}
		}
	}

	if containsCode {
		for _, pat := range dangerousPatterns {
			if pat.MatchString(sanitized) {
				sanitized = "⚠️ WARNING: Potentially dangerous command detected\n\n" + sanitized
				changed = true
				break
			}
		}
	}

	return OutputReport{Content: sanitized, Sanitized: changed}
}

// SanitizeForLogging strips all PII unconditionally. Log lines never
// carry raw user identifiers even when sanitization is disabled for
// conversation output.
func (m *Middleware) SanitizeForLogging(text string) string {
	sanitized := text
	for _, name := range piiOrder {
		sanitized = piiPatterns[name].ReplaceAllString(sanitized, redactionTag(name))
	}
	return sanitized
}

func detectPII(text string) []string {
	var found []string
	for _, name := range piiOrder {
		if piiPatterns[name].MatchString(text) {
			found = append(found, name)
		}
	}
	return found
}

func redactionTag(name string) string {
	return "[" + strings.ToUpper(name) + "_REDACTED]"
}
