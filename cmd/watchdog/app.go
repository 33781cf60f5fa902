package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/crimson-sun/watchdog/internal/config"
	"github.com/crimson-sun/watchdog/internal/engine"
	"github.com/crimson-sun/watchdog/internal/engine/alert"
	"github.com/crimson-sun/watchdog/internal/engine/dedup"
	"github.com/crimson-sun/watchdog/internal/engine/embedder"
	"github.com/crimson-sun/watchdog/internal/engine/generator"
	"github.com/crimson-sun/watchdog/internal/engine/normalizer"
	"github.com/crimson-sun/watchdog/internal/engine/retriever"
	"github.com/crimson-sun/watchdog/internal/engine/store"
	"github.com/crimson-sun/watchdog/internal/engine/synth"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
	"github.com/crimson-sun/watchdog/internal/output/async"
	"github.com/crimson-sun/watchdog/internal/output/file"
	"github.com/crimson-sun/watchdog/internal/output/multi"
	"github.com/crimson-sun/watchdog/internal/output/slack"
	"github.com/crimson-sun/watchdog/internal/output/stdout"
	"github.com/crimson-sun/watchdog/internal/output/webhook"
	"github.com/crimson-sun/watchdog/internal/pipeline"
	"github.com/crimson-sun/watchdog/internal/telemetry"

	// Register hosted providers.
	_ "github.com/crimson-sun/watchdog/internal/provider/anthropic"
	_ "github.com/crimson-sun/watchdog/internal/provider/openai"
)

// app holds the wired components for one command run.
type app struct {
	cfg      config.Config
	engine   *engine.Engine
	pipeline *pipeline.Pipeline
	closers  []io.Closer
	shutdown func(context.Context) error
}

// buildOptions varies wiring per command.
type buildOptions struct {
	// generate is false for commands that never synthesize; a missing LLM
	// key is then not an error.
	generate bool
	// extra outputs receive findings next to the configured targets.
	extra []output.Output
}

// build wires configuration into an engine and pipeline.
func build(ctx context.Context, cfg config.Config, opts buildOptions) (*app, error) {
	a := &app{cfg: cfg}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:     cfg.Telemetry.Endpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		SamplingRate: cfg.Telemetry.SamplingRate,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, err
	}
	a.shutdown = shutdown

	emb, err := a.openEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	coll, err := store.OpenCollection(ctx, store.Options{
		Provider:         cfg.VectorDB.Provider,
		Name:             cfg.VectorDB.CollectionName,
		PersistDirectory: cfg.VectorDB.PersistDirectory,
		DSN:              cfg.VectorDB.DSN,
	})
	if err != nil {
		emb.Close()
		a.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	st := store.New(emb, coll, store.WithTimeout(cfg.Application.CallTimeout))

	gen, err := generator.Open(generator.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Endpoint:    cfg.LLM.Endpoint,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		if opts.generate {
			st.Close()
			a.Close()
			return nil, fmt.Errorf("open llm: %w", err)
		}
		gen = unavailable(err)
	}

	ret := retriever.New(st, cfg.Application.AnalysisChunkSize)
	syn := synth.New(ret, gen,
		synth.WithDefaultK(cfg.Application.AnalysisChunkSize),
		synth.WithThreshold(cfg.Application.InclusionThreshold),
		synth.WithConcurrency(cfg.Application.Concurrency),
		synth.WithTimeout(cfg.Application.CallTimeout),
	)
	a.engine = engine.New(normalizer.New(), st, ret, syn)

	out, err := buildOutputs(cfg, opts.extra)
	if err != nil {
		a.Close()
		return nil, err
	}

	popts := []pipeline.Option{
		pipeline.WithDedup(dedup.New(dedup.Config{Window: cfg.Application.DedupWindow})),
		pipeline.WithBatchSize(cfg.Application.MaxLogEntries),
	}
	if cfg.Slack.WebhookURL != "" {
		notifier, err := newSlack(cfg)
		if err != nil {
			out.Close()
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, notifier)
		popts = append(popts, pipeline.WithAlerts(alert.NewDispatcher(alertPolicy(cfg), notifier)))
	}
	a.pipeline = pipeline.New(a.engine, out, popts...)
	return a, nil
}

// openEmbedder opens the configured embedder, wrapped in the Redis cache
// when one is configured.
func (a *app) openEmbedder(ctx context.Context) (embedder.Embedder, error) {
	cfg := a.cfg
	emb, err := embedder.Open(embedder.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
		Endpoint: cfg.Embedding.Endpoint,
		ModelDir: cfg.Embedding.ModelDir,
		Timeout:  cfg.Application.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open embedder: %w", err)
	}
	if cfg.Cache.RedisAddr == "" {
		return emb, nil
	}

	kv, err := embedder.NewRedisKV(ctx, cfg.Cache.RedisAddr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		// The cache only saves work; run without it.
		slog.Warn("embedding cache unavailable", "addr", cfg.Cache.RedisAddr, "error", err)
		return emb, nil
	}
	a.closers = append(a.closers, kv)
	namespace := cfg.Embedding.Provider + ":" + cfg.Embedding.Model
	return embedder.NewCached(emb, kv, namespace, cfg.Cache.TTL), nil
}

func buildOutputs(cfg config.Config, extra []output.Output) (output.Output, error) {
	verbosity, err := output.ParseVerbosity(cfg.Output.Verbosity)
	if err != nil {
		return nil, err
	}

	var outs []output.Output
	for _, target := range cfg.Output.Targets {
		var o output.Output
		switch target {
		case "stdout":
			o = stdout.New(nil, verbosity, cfg.Output.Pretty)
		case "file":
			var fopts []file.Option
			if cfg.Output.MaxSize > 0 {
				fopts = append(fopts, file.WithMaxSize(cfg.Output.MaxSize))
			}
			fo, err := file.New(cfg.Output.FilePath, verbosity, fopts...)
			if err != nil {
				multi.New(outs...).Close()
				return nil, err
			}
			o = fo
		case "webhook":
			o = webhook.New(cfg.Output.WebhookURL, webhook.WithVerbosity(verbosity))
		default:
			multi.New(outs...).Close()
			return nil, fmt.Errorf("unknown output target: %s", target)
		}
		if cfg.Output.Async {
			o = async.New(o)
		}
		outs = append(outs, o)
	}
	outs = append(outs, extra...)

	if len(outs) == 1 {
		return outs[0], nil
	}
	return multi.New(outs...), nil
}

func newSlack(cfg config.Config) (*slack.Output, error) {
	return slack.New(slack.Config{
		WebhookURL: cfg.Slack.WebhookURL,
		Channel:    cfg.Slack.Channel,
		Username:   cfg.Slack.Username,
		IconEmoji:  cfg.Slack.IconEmoji,
	})
}

// alertPolicy takes the stricter of the alert and Slack severity floors.
func alertPolicy(cfg config.Config) alert.Policy {
	p := alert.Policy{
		MinConfidence: cfg.Alert.MinConfidence,
		MinSeverity:   model.Severity(strings.ToLower(cfg.Alert.MinSeverity)),
	}
	if s := model.Severity(strings.ToLower(cfg.Slack.MinSeverity)); s.Rank() > p.MinSeverity.Rank() {
		p.MinSeverity = s
	}
	return p
}

// unavailable stands in for a generator that could not be opened. Commands
// that never synthesize run with it; anything that does gets err back.
func unavailable(err error) generator.Generator {
	return generator.Func(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("llm unavailable: %w", err)
	})
}

// Close releases everything build opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close())
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}
