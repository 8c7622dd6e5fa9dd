package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"morning-dispatch/internal/config"
	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/fundamentals"
	"morning-dispatch/internal/job"
	"morning-dispatch/internal/newsbrief"
	"morning-dispatch/internal/pipeline"
	"morning-dispatch/internal/provider"
	"morning-dispatch/internal/resolver"
	"morning-dispatch/pkg/tracing"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	runPipelineFunc   = func(s *job.Scheduler) (domain.RunState, error) { return s.RunOnce() }
	setupSignalNotify = signal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
	exitFunc          = os.Exit
)

var (
	forceFlag  = flag.Bool("force", false, "refresh today's data even if cached")
	strictFlag = flag.Bool("strict", false, "fail the run when any required source is degraded")
)

func main() {
	flag.Parse()

	loadEnvFunc()
	cfg := loadConfigFunc()
	if *forceFlag {
		cfg.Force = true
	}
	if *strictFlag {
		cfg.Strict = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	p := buildPipeline(cfg, tracer)
	scheduler := job.NewScheduler(ctx, p)

	if cfg.Schedule == "" {
		state, err := runPipelineFunc(scheduler)
		if err != nil {
			log.Printf("run failed: %v", err)
			exitFunc(1)
			return
		}
		log.Printf("run finished: %s", state)
		return
	}

	if err := scheduler.Register(cfg.Schedule); err != nil {
		log.Fatalf("invalid RUN_SCHEDULE %q: %v", cfg.Schedule, err)
	}
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	scheduler.Stop()
}

// buildPipeline wires providers, the quote router, fundamentals and the
// orchestrator from one loaded config.
func buildPipeline(cfg *config.Config, tracer trace.Tracer) *pipeline.Pipeline {
	throttle := provider.NewThrottle(cfg.DisableThrottle)
	client := provider.NewClient(provider.DefaultRetryPolicy(), throttle)
	edgarClient := provider.NewClient(provider.EdgarRetryPolicy(), throttle)

	stooq := provider.NewStooqProvider(client, tracer)
	yahoo := provider.NewYahooProvider(client, tracer)
	fmp := provider.NewFMPProvider(client, cfg.Key(config.KeyFMP), tracer)
	twelve := provider.NewTwelveDataProvider(client, cfg.Key(config.KeyTwelveData), tracer)
	alpha := provider.NewAlphaVantageProvider(client, cfg.Key(config.KeyAlphaVantage), tracer)
	alpaca := provider.NewAlpacaProvider(client, cfg.Key(config.KeyAlpacaKeyID), cfg.Key(config.KeyAlpacaSecret), tracer)

	router := resolver.NewRouter(map[string]resolver.QuoteFunc{
		resolver.ProviderStooq:        stooq.DailyQuote,
		resolver.ProviderFMP:          fmp.DailyQuote,
		resolver.ProviderTwelveData:   twelve.DailyQuote,
		resolver.ProviderAlphaVantage: alpha.DailyQuote,
		resolver.ProviderAlpaca:       alpaca.DailyQuote,
		resolver.ProviderYahoo:        yahoo.DailyQuote,
	}, resolver.Options{
		Override:      cfg.QuoteOrder,
		IndexOrder:    cfg.IndexOrder,
		EquityOrder:   cfg.EquityOrder,
		DisableYahoo:  cfg.DisableYahoo,
		YahooFallback: cfg.YahooFallback,
		PreferStooq:   cfg.PreferStooq,
	}, tracer)

	edgar := fundamentals.NewEdgarClient(edgarClient, cfg.EdgarUserAgent, fundamentals.NewTickerMap(), tracer)
	merger := fundamentals.NewMerger(edgar, fmp, tracer)
	themes := fundamentals.NewThemeBuilder(fmp, router, merger, throttle, tracer)

	goldCandidates := []resolver.Candidate[domain.QuoteSnapshot]{
		{Name: "fmp", Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			return fmp.DailyQuote(ctx, "XAUUSD")
		}},
		{Name: "twelve_data", Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			return twelve.DailyQuote(ctx, "XAU/USD")
		}},
		{Name: "yahoo", Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			return yahoo.DailyQuote(ctx, "GC=F")
		}},
	}

	deps := pipeline.Deps{
		Quotes: router,
		GoldQuote: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			snap, _, err := resolver.Resolve(ctx, "quote gold", goldCandidates)
			return snap, err
		},
		Themes:      themes,
		PutCall:     provider.NewCBOEProvider(client, tracer),
		Survey:      provider.NewAAIIProvider(client, tracer),
		Spot:        provider.NewCoinbaseProvider(client, tracer),
		Derivatives: provider.NewOKXProvider(client, tracer),
		Flows:       flowChain(cfg, client, tracer),
		Calendar:    provider.NewTradingEconomicsProvider(client, cfg.Key(config.KeyTradingEcon), tracer),
		Feeds:       provider.NewFeedProvider(client, tracer),
		Brief:       briefSource(cfg, tracer),
	}
	if key := cfg.Key(config.KeyFinnhub); key != "" {
		deps.Earnings = provider.NewFinnhubProvider(client, key, tracer)
	}

	return pipeline.New(pipeline.Options{
		OverrideDate: cfg.OverrideDate,
		Force:        cfg.Force,
		Strict:       cfg.Strict,
		Themes:       cfg.Themes,
		Feeds:        cfg.Feeds,
		MaxEvents:    cfg.MaxEvents,
		OutDir:       cfg.OutDir,
		StateDir:     cfg.StateDir,
		KeyErrors:    cfg.KeyErrors,
	}, deps, tracer)
}

// flowChain orders the ETF flow providers: keyed APIs first, the public page
// as the last resort.
func flowChain(cfg *config.Config, client *provider.Client, tracer trace.Tracer) []pipeline.FlowSource {
	var flows []pipeline.FlowSource
	if key := cfg.Key(config.KeySosoValue); key != "" {
		soso := provider.NewSosoValueProvider(client, key, tracer)
		flows = append(flows, pipeline.FlowSource{Name: "sosovalue", Fetch: soso.NetInflowMUSD})
	}
	if secret := cfg.Key(config.KeyCoinglass); secret != "" {
		cg := provider.NewCoinglassProvider(client, secret, tracer)
		flows = append(flows, pipeline.FlowSource{Name: "coinglass", Fetch: cg.NetInflowMUSD})
	}
	farside := provider.NewFarsideProvider(client, cfg.FarsideCookies, tracer)
	flows = append(flows, pipeline.FlowSource{Name: "farside", Fetch: farside.NetInflowMUSD})
	return flows
}

func briefSource(cfg *config.Config, tracer trace.Tracer) pipeline.BriefSource {
	b := newsbrief.NewBriefer(cfg.OpenAIAPIKey, cfg.NewsModel, tracer)
	if b == nil {
		return nil
	}
	return b
}
