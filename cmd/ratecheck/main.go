// Command ratecheck exercises the rate limiting pipeline end to end: it fires
// a burst of requests at one provider through the decorated client and prints
// a summary of successes, rejections, and retries.
//
// Typical runs:
//
//	ratecheck -mock -requests 10 -limit 3
//	ratecheck -config llmgate.yaml -provider openai -requests 5 -no-retries
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"llmgate/pkg/bundle"
	"llmgate/pkg/config"
	"llmgate/pkg/llm"
	"llmgate/pkg/llmerrors"
	"llmgate/pkg/llmimpl"
	"llmgate/pkg/logx"
	"llmgate/pkg/metrics"
	"llmgate/pkg/ratelimit"
)

type options struct {
	configPath string
	provider   string
	model      string
	requests   int
	limit      int64
	delay      time.Duration
	timeout    time.Duration
	mock       bool
	noRetries  bool
	verbose    bool
}

// tally accumulates per-run outcome counts for the summary table.
type tally struct {
	successful  int
	rateLimited int
	permanent   int
	errored     int
	retries     int
	waited      time.Duration
}

func main() {
	opts := parseFlags()
	if opts.verbose {
		logx.SetDebug(true)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratecheck: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	b, err := buildBundle(ctx, cfg, opts)
	if err != nil {
		// The platform itself is unconfigured; nothing to diagnose.
		fmt.Fprintf(os.Stderr, "ratecheck: cannot construct platform: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	provider := config.ProviderID(opts.provider)
	client, ok := b.RateLimitedClient(provider)
	if !ok {
		fmt.Fprintf(os.Stderr, "ratecheck: provider %s has no client\n", provider)
		os.Exit(1)
	}

	result := run(ctx, client, opts)
	printSummary(os.Stdout, provider, opts, result)

	if cfg.Metrics.PrometheusURL != "" {
		printThrottleStats(ctx, os.Stdout, cfg.Metrics.PrometheusURL, provider)
	}
}

// printThrottleStats reads aggregated rejection totals back from Prometheus.
// Query failures are reported but never change the exit code: the run itself
// already completed.
func printThrottleStats(ctx context.Context, out *os.File, prometheusURL string, provider config.ProviderID) {
	qs, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratecheck: prometheus client: %v\n", err)
		return
	}
	stats, err := qs.GetThrottleStats(ctx, string(provider))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratecheck: throttle stats query: %v\n", err)
		return
	}

	fmt.Fprintf(out, "\nthrottle totals from %s\n\n", prometheusURL)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "requests rejected\t%d\n", stats.RequestsRejected)
	fmt.Fprintf(w, "tokens rejected\t%d\n", stats.TokensRejected)
	fmt.Fprintf(w, "avg queue wait\t%.2fs\n", stats.AvgQueueWaitSecs)
	_ = w.Flush()
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to llmgate YAML config (default: built-in defaults)")
	flag.StringVar(&opts.provider, "provider", "openai", "Target provider id")
	flag.StringVar(&opts.model, "model", "", "Target model (default: provider's configured model)")
	flag.IntVar(&opts.requests, "requests", 5, "Number of sequential requests to issue")
	flag.Int64Var(&opts.limit, "limit", 0, "Artificial request-limit override (0 = use configured limit)")
	flag.DurationVar(&opts.delay, "delay", 0, "Delay between requests")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall run timeout")
	flag.BoolVar(&opts.mock, "mock", false, "Use a mock client instead of the real provider SDK")
	flag.BoolVar(&opts.noRetries, "no-retries", false, "Disable automatic retries so raw rejections surface")
	flag.BoolVar(&opts.verbose, "v", false, "Enable debug logging")
	flag.Parse()
	return opts
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	promptPassphraseIfNeeded(cfg)
	return cfg, nil
}

// promptPassphraseIfNeeded asks for the secrets passphrase when the config
// carries encrypted credentials and the environment does not provide one.
func promptPassphraseIfNeeded(cfg *config.Config) {
	if os.Getenv("LLMGATE_SECRET_PASSPHRASE") != "" {
		return
	}
	for _, pc := range cfg.Providers {
		if pc != nil && pc.APIKeyEncrypted != "" {
			fmt.Fprint(os.Stderr, "Secrets passphrase: ")
			pass, err := term.ReadPassword(syscall.Stdin)
			fmt.Fprintln(os.Stderr)
			if err == nil {
				config.SetPassphrase(string(pass))
			}
			return
		}
	}
}

func buildBundle(ctx context.Context, cfg *config.Config, opts options) (*bundle.Bundle, error) {
	provider := config.ProviderID(opts.provider)

	bopts := []bundle.Option{}
	if opts.mock {
		bopts = append(bopts, bundle.WithBaseClient(provider, llmimpl.NewMock(provider)))
	}
	if opts.noRetries {
		bopts = append(bopts, bundle.WithRetriesDisabled())
	}
	if opts.limit > 0 {
		bopts = append(bopts, bundle.WithLimitOverride(provider, config.LimitRequests, opts.limit))
	}
	return bundle.Build(ctx, cfg, bopts...)
}

func run(ctx context.Context, client *ratelimit.RateLimitedClient, opts options) tally {
	model := opts.model
	if model == "" {
		model = defaultModel(config.ProviderID(opts.provider))
	}

	var t tally
	for i := 0; i < opts.requests; i++ {
		if i > 0 && opts.delay > 0 {
			time.Sleep(opts.delay)
		}

		req := llm.NewRequest(model, []llm.Message{
			llm.NewUserMessage(fmt.Sprintf("ratecheck probe %d", i+1)),
		})
		_, outcome, err := client.RequestWithOutcome(ctx, req)
		t.retries += outcome.RetryAttempts
		t.waited += outcome.Waited

		switch {
		case err == nil:
			t.successful++
		case outcome.State == ratelimit.StatePermanentlyLimited:
			t.permanent++
		case llmerrors.IsRateLimit(err):
			t.rateLimited++
		case errors.Is(err, context.DeadlineExceeded):
			t.errored++
			return t
		default:
			t.errored++
		}
	}
	return t
}

func defaultModel(provider config.ProviderID) string {
	switch provider {
	case config.ProviderAnthropic:
		return "claude-sonnet-4-0"
	case config.ProviderGemini:
		return "gemini-2.0-flash"
	case config.ProviderOllama:
		return "llama3.2"
	default:
		return "gpt-4o-mini"
	}
}

func printSummary(out *os.File, provider config.ProviderID, opts options, t tally) {
	fmt.Fprintf(out, "\nratecheck: %d requests against %s\n\n", opts.requests, provider)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	fmt.Fprintf(w, "successful\t%d\n", t.successful)
	fmt.Fprintf(w, "rate-limited\t%d\n", t.rateLimited)
	fmt.Fprintf(w, "permanently-limited\t%d\n", t.permanent)
	fmt.Fprintf(w, "errored\t%d\n", t.errored)
	fmt.Fprintf(w, "retries\t%d\n", t.retries)
	fmt.Fprintf(w, "total wait\t%s\n", t.waited)
	_ = w.Flush()
}
