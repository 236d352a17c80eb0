// Package sandboxexec implements the code execution tools. Every tool
// delegates to the sandbox manager; generated code never runs on the
// host. Results are formatted as self-describing strings with the
// ✅/❌ markers the orchestration loop keys on.
package sandboxexec

import (
	"fmt"
	"strings"

	"github.com/crucible-ai/crucible/internal/sandbox"
)

// splitPackages parses a comma-separated package list.
func splitPackages(raw string) []string {
	if raw == "" {
		return nil
	}
	var packages []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			packages = append(packages, p)
		}
	}
	return packages
}

// formatExecution renders a code execution result for the model.
func formatExecution(result *sandbox.Result) string {
	secs := result.WallClock.Seconds()
	if result.Success {
		out := fmt.Sprintf("✅ Execution successful (%.2fs)\n\n", secs)
		if result.Stdout != "" {
			out += "Output:\n" + result.Stdout + "\n"
		}
		return out
	}

	out := fmt.Sprintf("❌ Execution failed (%.2fs)\n\n", secs)
	switch result.ErrorKind {
	case sandbox.ErrorTimeout:
		out += "Error: execution timed out\n"
	case sandbox.ErrorRuntimeUnavailable:
		out += "Error: sandbox runtime unavailable\n"
	}
	if result.Stderr != "" {
		out += "Stderr:\n" + result.Stderr + "\n"
	}
	return out
}

func packagesSchema(manager string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Optional comma-separated list of " + manager + " packages to install before running",
	}
}
