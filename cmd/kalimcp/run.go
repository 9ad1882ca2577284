package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/engine"
	"github.com/jkaninda/kalimcp/internal/sandbox"
)

// Exit codes for the run command.
const (
	ExitSuccess   = 0
	ExitToolError = 1
	ExitRejected  = 2
	ExitFailed    = 3
)

var (
	runConfigPath string
	runTimeout    int
	runWorkDir    string
	runJSON       bool
)

var runCmd = &cobra.Command{
	Use:   "run TOOL [ARGS...]",
	Short: "Execute a whitelisted tool once and print its output",
	Long: `Execute a single tool run through the full validation and sandbox
pipeline, print captured output, and exit.

Arguments after the tool name are passed through verbatim; use -- to stop
flag parsing:

  kalimcp run nmap -- -sV -p 80,443 203.0.113.7
  kalimcp run whois example.com

Exit codes:
  0  tool ran and exited zero
  1  tool ran and exited non-zero
  2  request rejected by validation
  3  spawn failure, timeout, or kill`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "timeout in seconds (0 = tool default)")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "working directory relative to the sandbox root")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
}

// runResultView is the --json output shape. Mirrors the HTTP API response:
// the raw spawn-error string stays in the audit trail only.
type runResultView struct {
	RequestID  string `json:"request_id"`
	Tool       string `json:"tool"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode *int   `json:"return_code"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
	Outcome    string `json:"outcome"`
}

func resultView(r *sandbox.ExecutionResult) runResultView {
	return runResultView{
		RequestID:  r.RequestID,
		Tool:       r.Tool,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		ReturnCode: r.ReturnCode,
		DurationMS: r.Duration.Milliseconds(),
		Truncated:  r.Truncated,
		Outcome:    string(r.Outcome),
	}
}

func runOnce(_ *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("KALIMCP_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	// Cleanup drains the audit queue, so it must run before os.Exit.
	exit := func(code int) {
		sc.Cleanup()
		os.Exit(code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve the binary before running so a missing tool fails fast with a
	// readable message instead of a spawn error.
	if _, err := sc.Registry.RefreshAvailability(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: tool %q is not on the allow-list\n", args[0])
		exit(ExitRejected)
	}

	result, err := sc.Engine.Execute(ctx, engine.Request{
		Tool:       args[0],
		Args:       args[1:],
		Timeout:    time.Duration(runTimeout) * time.Second,
		WorkingDir: runWorkDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(ExitRejected)
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resultView(result)); err != nil {
			sc.Cleanup()
			return err
		}
	} else {
		fmt.Fprint(os.Stdout, result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		if result.Truncated {
			fmt.Fprintln(os.Stderr, "[output truncated]")
		}
	}

	switch result.Outcome {
	case sandbox.OutcomeSuccess:
		exit(ExitSuccess)
	case sandbox.OutcomeToolError:
		exit(ExitToolError)
	default:
		fmt.Fprintf(os.Stderr, "Error: execution %s\n", result.Outcome)
		exit(ExitFailed)
	}
	return nil
}
