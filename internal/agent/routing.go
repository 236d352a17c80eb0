package agent

import "strings"

// RoutingPolicy decides whether an initiating message is casual chat
// rather than a coding task. Chat skips tool binding entirely and is
// answered in a single model turn.
//
// The policy is heuristic. A false negative only costs the extra
// tokens of a tool-bound turn; a false positive answers a real task
// conversationally. Callers may swap in a stricter policy.
type RoutingPolicy func(message string) bool

// taskKeywords are words that indicate the user wants work done.
// A message containing any of these never takes the chat path.
var taskKeywords = map[string]bool{
	"create": true, "write": true, "build": true, "make": true,
	"implement": true, "generate": true, "code": true,
	"fix": true, "debug": true, "refactor": true, "modify": true,
	"update": true, "change": true, "edit": true,
	"delete": true, "remove": true, "add": true, "install": true,
	"run": true, "execute": true, "test": true,
	"deploy": true, "analyze": true, "scan": true, "search": true,
	"find": true, "replace": true, "read": true,
	"file": true, "directory": true, "folder": true,
	"function": true, "class": true, "module": true,
	"api": true, "server": true, "database": true,
	"script": true, "program": true, "app": true,
	"error": true, "bug": true, "issue": true, "crash": true,
	"exception": true, "traceback": true,
	"import": true, "package": true, "dependency": true,
	"pip": true, "npm": true, "git": true,
	"python": true, "javascript": true, "java": true,
	"html": true, "css": true, "sql": true,
	"project": true, "structure": true, "architecture": true,
	"config": true, "setup": true,
	"list": true, "show": true, "print": true, "log": true,
	"save": true, "load": true, "parse": true,
}

// chatPatterns are openers that mark a message as conversational when
// the remainder carries no task keywords.
var chatPatterns = []string{
	"hello", "hi ", "hi!", "hey", "howdy", "greetings",
	"good morning", "good afternoon", "good evening",
	"thank", "thanks", "thx", "ty",
	"who are you", "what are you", "what can you do",
	"how are you", "what's up", "whats up",
	"nice", "cool", "great", "awesome", "ok", "okay",
	"yes", "no", "sure", "nope", "yep", "yeah",
	"explain", "tell me about", "describe", "what is",
}

// IsConversational is the default RoutingPolicy: short messages with
// no task vocabulary, or recognized chat openers, count as casual.
func IsConversational(message string) bool {
	clean := strings.ToLower(strings.TrimSpace(message))
	if clean == "" {
		return true
	}

	if len(strings.Fields(clean)) <= 3 {
		if !containsTaskKeyword(stripPunct(clean)) {
			return true
		}
	}

	for _, pat := range chatPatterns {
		if clean == strings.TrimSpace(pat) || strings.HasPrefix(clean, pat) {
			remainder := strings.TrimSpace(clean[min(len(pat), len(clean)):])
			if !containsTaskKeyword(stripPunct(remainder)) {
				return true
			}
		}
	}
	return false
}

func containsTaskKeyword(text string) bool {
	for _, w := range strings.Fields(text) {
		if taskKeywords[w] {
			return true
		}
	}
	return false
}

func stripPunct(s string) string {
	return strings.NewReplacer("?", "", "!", "", ".", "").Replace(s)
}
