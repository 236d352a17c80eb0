package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/crucible-ai/crucible/internal/config"
)

// Exit codes for the run command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInputDenied = 2
	ExitProviderErr = 3
)

var (
	runMessage    string
	runConfigPath string
	runSessionID  string
	runTimeout    int
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single coding task through the loop",
	Long: `Run one task through the generator/executor loop and print the
final answer. The generator edits files under the configured project
directory; all code execution happens in the Docker sandbox.

Examples:
  crucible run -m "write a fizzbuzz in python and verify it"
  crucible run -m "fix the failing tests" --session debug-1 --timeout 1200

Exit codes:
  0  task succeeded
  1  task failed or iteration budget exhausted
  2  input rejected by guardrails
  3  provider or configuration error`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "task to run (required)")
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session ID (default: generated)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 600, "timeout in seconds")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "enable debug logging")

	_ = runCmd.MarkFlagRequired("message")
}

func runRun(_ *cobra.Command, _ []string) error {
	if strings.TrimSpace(runMessage) == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	// Keep stdout clean for the answer; logs go to stderr.
	level := slog.LevelWarn
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(goutils.Env("CRUCIBLE_CONFIG", runConfigPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitProviderErr)
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitProviderErr)
	}
	defer sc.Cleanup()

	if report := sc.Guardrails.ValidateInput(runMessage); !report.Valid {
		fmt.Fprintf(os.Stderr, "Error: input rejected: %s\n", strings.Join(report.Errors, "; "))
		os.Exit(ExitInputDenied)
	}

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(runTimeout)*time.Second)
	defer cancel()

	result, err := sc.Loop.Run(ctx, sessionID, runMessage)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "Error: run timed out after %ds\n", runTimeout)
			os.Exit(ExitFailure)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitProviderErr)
	}

	answer := sc.Guardrails.SanitizeOutput(result.Message, true)
	fmt.Println(answer.Content)
	fmt.Fprintf(os.Stderr, "\n[session=%s success=%v iterations=%d tokens=%d/%d llm_calls=%d]\n",
		result.SessionID, result.Success, result.Iterations,
		result.Usage.InputTokens, result.Usage.OutputTokens, result.LLMCalls)

	if !result.Success {
		os.Exit(ExitFailure)
	}
	return nil
}
