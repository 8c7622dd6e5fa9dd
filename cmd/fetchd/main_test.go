package main

import (
	"context"
	"os"
	"testing"
	"time"

	"morning-dispatch/internal/config"
	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/job"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func stubDeps(t *testing.T, cfg *config.Config) (*int, func()) {
	t.Helper()

	origArgs := os.Args
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitTracer := initTracerFunc
	origRun := runPipelineFunc
	origSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origExit := exitFunc

	os.Args = []string{"fetchd"}
	runs := new(int)

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return cfg }
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	runPipelineFunc = func(s *job.Scheduler) (domain.RunState, error) {
		*runs++
		return domain.RunCompleted, nil
	}
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(quit <-chan os.Signal) {}
	exitFunc = func(code int) { t.Fatalf("unexpected exit(%d)", code) }

	return runs, func() {
		os.Args = origArgs
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initTracerFunc = origInitTracer
		runPipelineFunc = origRun
		setupSignalNotify = origSignal
		waitForSignalFunc = origWait
		exitFunc = origExit
	}
}

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		OutDir:    t.TempDir(),
		StateDir:  t.TempDir(),
		Themes:    map[string][]string{"ai": {"NVDA"}},
		MaxEvents: 12,
		NewsModel: "gpt-4o-mini",
	}
}

func TestMainRunsOnceWithoutSchedule(t *testing.T) {
	runs, restore := stubDeps(t, baseConfig(t))
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
	if *runs != 1 {
		t.Fatalf("runs = %d", *runs)
	}
}

func TestMainScheduledModeStartsAndStops(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Schedule = "30 6 * * 1-5"
	runs, restore := stubDeps(t, cfg)
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
	if *runs != 0 {
		t.Fatalf("scheduled mode must not run immediately, runs = %d", *runs)
	}
}

func TestBuildPipelineWiresWithoutKeys(t *testing.T) {
	cfg := baseConfig(t)
	tp := sdktrace.NewTracerProvider()
	if p := buildPipeline(cfg, tp.Tracer("test")); p == nil {
		t.Fatal("pipeline must build with an empty key registry")
	}
}
