package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crimson-sun/watchdog/internal/config"
	"github.com/crimson-sun/watchdog/internal/connector"
	_ "github.com/crimson-sun/watchdog/internal/connector/file"
	"github.com/crimson-sun/watchdog/internal/engine/playbook"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
	wsout "github.com/crimson-sun/watchdog/internal/output/websocket"
	"github.com/crimson-sun/watchdog/internal/server"
)

// sourceConfig maps a path argument to a connector; "-" reads stdin.
func sourceConfig(cfg config.Config, path string, follow bool) (connector.Connector, connector.ConnectorConfig, error) {
	provider := "file"
	if path == "-" {
		provider = "stdin"
	}
	ctor, err := connector.Get(provider)
	if err != nil {
		return nil, connector.ConnectorConfig{}, err
	}
	extra := make(map[string]string, len(cfg.Connector.Extra)+1)
	for k, v := range cfg.Connector.Extra {
		extra[k] = v
	}
	if follow {
		extra["follow"] = "true"
	}
	return ctor(), connector.ConnectorConfig{Provider: provider, Endpoint: path, Extra: extra}, nil
}

func runIngest(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	follow := fs.Bool("follow", false, "keep reading appended lines until interrupted")
	limit := fs.Int("limit", 0, "store at most this many lines (0 = all)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: watchdog ingest [-follow] [-limit n] <file|->")
	}

	a, err := open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, ccfg, err := sourceConfig(cfg, fs.Arg(0), *follow)
	if err != nil {
		return err
	}

	var n int
	if *follow {
		n, err = a.pipeline.Stream(ctx, conn, ccfg)
		if skipped := a.pipeline.Skipped(); skipped > 0 {
			fmt.Fprintf(os.Stderr, "skipped %d lines that could not be stored\n", skipped)
		}
	} else {
		n, err = a.pipeline.Ingest(ctx, conn, ccfg, connector.QueryParams{Limit: *limit})
	}
	fmt.Fprintf(os.Stderr, "Ingested %d log entries from %s\n", n, fs.Arg(0))
	return err
}

func runAnalyze(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	name := fs.String("playbook", "", "playbook to run (default: chosen from the file name)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: watchdog analyze [-playbook %s] <file|->", strings.Join(playbook.Names(), "|"))
	}
	path := fs.Arg(0)

	pb := playbook.ForFile(path)
	if *name != "" {
		var err error
		if pb, err = playbook.Get(*name); err != nil {
			return err
		}
	}

	a, err := open(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, ccfg, err := sourceConfig(cfg, path, false)
	if err != nil {
		return err
	}
	total, err := a.pipeline.Ingest(ctx, conn, ccfg, connector.QueryParams{})
	if err != nil {
		return err
	}

	source := filepath.Base(path)
	if path == "-" {
		source = "stdin"
	}
	summary, err := a.pipeline.Analyze(ctx, source, total, pb.Requests())
	printSummary(summary)
	return err
}

func runReport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	name := fs.String("playbook", "recent", "playbook to run over the stored logs")
	notify := fs.Bool("notify", true, "post the summary to Slack when configured")
	fs.Parse(args)

	pb, err := playbook.Get(*name)
	if err != nil {
		return err
	}

	a, err := open(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Count == 0 {
		return errors.New("no logs stored; run ingest first")
	}

	summary, err := a.pipeline.Analyze(ctx, "recent_logs", stats.Count, pb.Requests())
	printSummary(summary)
	if *notify && cfg.Slack.WebhookURL != "" {
		if serr := sendSlackSummary(ctx, cfg, summary); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func runSearch(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	k := fs.Int("k", 5, "number of results")
	fs.Parse(args)
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("usage: watchdog search [-k n] <query>")
	}

	a, err := open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.engine.Search(ctx, query, *k)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matching logs.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. [%.3f] %s\n", i+1, h.Similarity, h.Document)
		if src, ok := h.Metadata["source"].(string); ok && src != "" {
			fmt.Printf("    source=%s timestamp=%v\n", src, h.Metadata["timestamp"])
		}
	}
	return nil
}

func runQuery(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	analysisContext := fs.String("context", "User query", "analysis context passed to the model")
	k := fs.Int("k", 0, "entries to retrieve (0 = analysis_chunk_size)")
	fs.Parse(args)
	question := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("usage: watchdog query [-context text] [-k n] <question>")
	}

	a, err := open(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.AnalyzeQuery(ctx, question, *analysisContext, *k)
	if err != nil {
		return err
	}
	if len(res.Hits) == 0 {
		fmt.Println("No relevant logs found.")
		return nil
	}
	if res.Degraded {
		fmt.Fprintln(os.Stderr, "warning: model response was not valid JSON; showing fallback")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Recommendation)
}

func runStatus(ctx context.Context, cfg config.Config, args []string) error {
	a, err := open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	path := cfg.Path
	if path == "" {
		path = "(defaults)"
	}
	fmt.Printf("Config:       %s\n", path)
	fmt.Printf("LLM:          %s / %s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("Embeddings:   %s\n", cfg.Embedding.Provider)
	fmt.Printf("Vector store: %s (%s)\n", cfg.VectorDB.Provider, stats.Location)
	fmt.Printf("Collection:   %s\n", stats.Name)
	fmt.Printf("Stored logs:  %d\n", stats.Count)
	fmt.Printf("Outputs:      %s\n", strings.Join(cfg.Output.Targets, ", "))
	slackState := "disabled"
	if cfg.Slack.WebhookURL != "" {
		slackState = "enabled (" + cfg.Slack.Channel + ")"
	}
	fmt.Printf("Slack alerts: %s\n", slackState)
	return nil
}

func runClear(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm dropping every stored entry")
	fs.Parse(args)
	if !*yes {
		return errors.New("refusing to clear the collection without -yes")
	}

	a, err := open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Collection cleared.")
	return nil
}

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	fs.Parse(args)

	verbosity, err := output.ParseVerbosity(cfg.Output.Verbosity)
	if err != nil {
		return err
	}
	hub := wsout.NewHub(verbosity)

	a, err := build(ctx, cfg, buildOptions{generate: true, extra: []output.Output{hub}})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.engine, a.pipeline,
		server.WithStream(hub),
		server.WithInfo(server.Info{
			LLMProvider: cfg.LLM.Provider,
			LLMModel:    cfg.LLM.Model,
			VectorDB:    cfg.VectorDB.Provider,
		}))
	return srv.ListenAndServe(ctx, *addr)
}

func runSlackTest(ctx context.Context, cfg config.Config, args []string) error {
	if cfg.Slack.WebhookURL == "" {
		return errors.New("SLACK_WEBHOOK_URL is not set")
	}
	s, err := newSlack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.SendTest(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Slack test message sent.")
	return nil
}

func runInitConfig(_ context.Context, _ config.Config, args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("path", config.DefaultPath, "file to write")
	fs.Parse(args)
	if err := config.WriteDefault(*path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", *path)
	return nil
}

func sendSlackSummary(ctx context.Context, cfg config.Config, summary output.Summary) error {
	s, err := newSlack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.WriteSummary(ctx, summary)
}

// printSummary writes a human-readable run summary to stderr; findings
// themselves go to the configured outputs.
func printSummary(s output.Summary) {
	fmt.Fprintf(os.Stderr, "\nAnalyzed %d logs from %s: %d findings, %d alerts sent\n",
		s.TotalLogs, s.Source, len(s.Findings), s.Alerts)
	counts := s.SeverityCounts()
	for _, sev := range []model.Severity{
		model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow, model.SeverityInfo,
	} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(os.Stderr, "  %-8s %d\n", sev, n)
		}
	}
	for _, f := range s.Ranked() {
		fmt.Fprintf(os.Stderr, "  - [%s/%s %.0f%%] %s\n", f.Severity, f.Category, f.Confidence*100, f.Issue)
	}
}
