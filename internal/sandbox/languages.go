package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Runtime images per language. Pulled lazily on first use.
const (
	pythonImage = "python:3.11-slim"
	nodeImage   = "node:18-slim"
	javaImage   = "eclipse-temurin:17-jdk-alpine"
	shellImage  = "python:3.11-slim"
)

// mountPoint is where the staging directory appears inside the
// container. Also the working directory for every run.
const mountPoint = "/workspace"

// launchPlan is the resolved recipe for one execution.
type launchPlan struct {
	image     string
	entryFile string
	command   []string

	// mountReadOnly is false only where the run must write into the
	// staging mount (javac emits class files next to the source;
	// npm install creates node_modules in the working directory).
	mountReadOnly bool
}

// javaClassRe extracts the first public class name from Java source.
var javaClassRe = regexp.MustCompile(`public\s+class\s+(\w+)`)

// resolvePlan maps a request onto an image, an entry file name, and
// the command to run.
func resolvePlan(req *Request) (*launchPlan, error) {
	switch req.Language {
	case LanguagePython:
		plan := &launchPlan{
			image:         pythonImage,
			entryFile:     "script.py",
			mountReadOnly: true,
		}
		if len(req.Dependencies) > 0 {
			// Install and run are chained into one command, so an
			// install failure surfaces as a plain non-zero exit.
			plan.command = []string{"sh", "-c",
				"pip install --quiet " + strings.Join(req.Dependencies, " ") +
					" && python " + mountPoint + "/script.py"}
		} else {
			plan.command = []string{"python", mountPoint + "/script.py"}
		}
		return plan, nil

	case LanguageJavaScript:
		plan := &launchPlan{
			image:     nodeImage,
			entryFile: "script.js",
		}
		if len(req.Dependencies) > 0 {
			plan.command = []string{"sh", "-c",
				"npm install --silent " + strings.Join(req.Dependencies, " ") +
					" && node " + mountPoint + "/script.js"}
		} else {
			plan.command = []string{"node", mountPoint + "/script.js"}
			plan.mountReadOnly = true
		}
		return plan, nil

	case LanguageJava:
		className := javaClassName(req.Code)
		return &launchPlan{
			image:     javaImage,
			entryFile: className + ".java",
			command: []string{"sh", "-c", fmt.Sprintf(
				"javac %s/%s.java && java -cp %s %s",
				mountPoint, className, mountPoint, className)},
		}, nil

	case LanguageShell:
		return &launchPlan{
			image:         shellImage,
			command:       []string{"sh", "-c", req.Code},
			mountReadOnly: true,
		}, nil
	}

	return nil, fmt.Errorf("unsupported language %q", req.Language)
}

// javaClassName returns the first `public class <Name>` match, or
// "Main" when the source declares none. The fallback is a fixed
// policy, not an inference: callers get Main.java and a Main run
// class whether or not that matches their intent. When the source
// declares several public classes only the first one wins.
func javaClassName(code string) string {
	if m := javaClassRe.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return "Main"
}
