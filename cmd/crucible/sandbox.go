package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-ai/crucible/internal/runtime"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect the Docker sandbox",
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the Docker engine is reachable",
	RunE:  runSandboxStatus,
}

func init() {
	sandboxCmd.AddCommand(sandboxStatusCmd)
}

func runSandboxStatus(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := runtime.NewDockerClient(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !client.Available(ctx) {
		fmt.Fprintln(os.Stderr, "Docker sandbox not available. Install and start Docker.")
		os.Exit(1)
	}

	info, err := client.Info(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Docker error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Docker sandbox is available")
	fmt.Printf("  version:      %s\n", info.ServerVersion)
	fmt.Printf("  os:           %s\n", info.OS)
	fmt.Printf("  architecture: %s\n", info.Architecture)
	return nil
}
