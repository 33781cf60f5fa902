// Command watchdog ingests logs into a vector store and turns them into
// security and operations recommendations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/crimson-sun/watchdog/internal/config"
	"github.com/crimson-sun/watchdog/internal/logging"
)

type command struct {
	summary  string
	generate bool
	run      func(ctx context.Context, cfg config.Config, args []string) error
}

var commands = map[string]command{
	"ingest":      {summary: "store log lines from a file or stdin (-)", run: runIngest},
	"analyze":     {summary: "ingest a log file and run its playbook", generate: true, run: runAnalyze},
	"search":      {summary: "show the stored entries most similar to a query", run: runSearch},
	"query":       {summary: "ask one question about the stored logs", generate: true, run: runQuery},
	"report":      {summary: "run a playbook over everything stored", generate: true, run: runReport},
	"status":      {summary: "show configuration and collection size", run: runStatus},
	"clear":       {summary: "drop every stored entry", run: runClear},
	"serve":       {summary: "run the HTTP API", run: runServe},
	"slack-test":  {summary: "send a test message to the Slack webhook", run: runSlackTest},
	"init-config": {summary: "write the default configuration file", run: runInitConfig},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: watchdog <command> [flags] [args]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", name, commands[name].summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "watchdog: unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchdog: %v\n", err)
		os.Exit(1)
	}

	// Findings go to stdout as JSON, so keep logs machine-readable when
	// stdout is one of the targets.
	jsonLogs := name == "serve"
	for _, t := range cfg.Output.Targets {
		if t == "stdout" {
			jsonLogs = true
		}
	}
	logging.Init(nil, jsonLogs, logging.ParseLevel(cfg.Application.LogLevel))

	if name != "init-config" {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "watchdog: invalid configuration:\n%v\n", err)
			os.Exit(1)
		}
		if cmd.generate {
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, cfg, os.Args[2:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "watchdog %s: %v\n", name, err)
		stop()
		os.Exit(1)
	}
}

// open builds the app for a command.
func open(ctx context.Context, cfg config.Config, generate bool) (*app, error) {
	return build(ctx, cfg, buildOptions{generate: generate})
}
