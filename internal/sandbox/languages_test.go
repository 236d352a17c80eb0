package sandbox

import (
	"strings"
	"testing"
)

func TestResolvePlan_Python(t *testing.T) {
	plan, err := resolvePlan(&Request{Language: LanguagePython, Code: "print(1)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.image != pythonImage {
		t.Errorf("image = %q", plan.image)
	}
	if plan.entryFile != "script.py" {
		t.Errorf("entry = %q", plan.entryFile)
	}
	if got := strings.Join(plan.command, " "); got != "python /workspace/script.py" {
		t.Errorf("command = %q", got)
	}
	if !plan.mountReadOnly {
		t.Error("expected read-only mount without dependencies")
	}
}

func TestResolvePlan_PythonWithDependencies(t *testing.T) {
	plan, err := resolvePlan(&Request{
		Language:     LanguagePython,
		Code:         "import requests",
		Dependencies: []string{"requests", "numpy"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.command, " ")
	if !strings.Contains(joined, "pip install --quiet requests numpy") {
		t.Errorf("command missing install step: %q", joined)
	}
	if !strings.Contains(joined, "&& python /workspace/script.py") {
		t.Errorf("command missing chained run: %q", joined)
	}
}

func TestResolvePlan_JavaScriptWithDependencies(t *testing.T) {
	plan, err := resolvePlan(&Request{
		Language:     LanguageJavaScript,
		Code:         "require('lodash')",
		Dependencies: []string{"lodash"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(plan.command, " ")
	if !strings.Contains(joined, "npm install --silent lodash") {
		t.Errorf("command = %q", joined)
	}
	// npm writes node_modules into the working directory.
	if plan.mountReadOnly {
		t.Error("expected writable mount for npm install")
	}
}

func TestResolvePlan_Java(t *testing.T) {
	plan, err := resolvePlan(&Request{
		Language: LanguageJava,
		Code:     "public class Fibonacci { public static void main(String[] a) {} }",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.image != javaImage {
		t.Errorf("image = %q", plan.image)
	}
	if plan.entryFile != "Fibonacci.java" {
		t.Errorf("entry = %q", plan.entryFile)
	}
	joined := strings.Join(plan.command, " ")
	if !strings.Contains(joined, "javac /workspace/Fibonacci.java && java -cp /workspace Fibonacci") {
		t.Errorf("command = %q", joined)
	}
	if plan.mountReadOnly {
		t.Error("expected writable mount for javac output")
	}
}

func TestResolvePlan_Shell(t *testing.T) {
	plan, err := resolvePlan(&Request{Language: LanguageShell, Code: "ls -la | head"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.command) != 3 || plan.command[2] != "ls -la | head" {
		t.Errorf("command = %v", plan.command)
	}
	if plan.entryFile != "" {
		t.Errorf("shell should have no entry file, got %q", plan.entryFile)
	}
}

func TestResolvePlan_UnsupportedLanguage(t *testing.T) {
	if _, err := resolvePlan(&Request{Language: "cobol"}); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestJavaClassName(t *testing.T) {
	cases := []struct {
		name string
		code string
		want string
	}{
		{"declared", "public class Solver {}", "Solver"},
		{"withModifiers", "import java.util.*;\npublic class App implements Runnable {}", "App"},
		{"noPublicClass", "class Helper {}", "Main"},
		{"empty", "", "Main"},
		// Only the first public class is honored.
		{"multiple", "public class First {}\npublic class Second {}", "First"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := javaClassName(tc.code); got != tc.want {
				t.Errorf("javaClassName = %q, want %q", got, tc.want)
			}
		})
	}
}
